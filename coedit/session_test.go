package coedit

import (
	"path/filepath"
	"testing"

	gojwt "github.com/golang-jwt/jwt/v5"

	"github.com/go-playground/assert/v2"
)

func testToken(t *testing.T, email string) string {
	token := gojwt.NewWithClaims(gojwt.SigningMethodHS256, gojwt.MapClaims{
		"email": email,
	})
	signed, err := token.SignedString([]byte("test-secret"))
	assert.Equal(t, err, nil)
	return signed
}

func TestSessionStoreMemory(t *testing.T) {
	sessions := NewSessionStore()

	_, ok := sessions.Current()
	assert.Equal(t, false, ok)

	sessions.SetCredential("token-1", "a@b.c")
	session, ok := sessions.Current()
	assert.Equal(t, true, ok)
	assert.Equal(t, "token-1", session.Token)
	assert.Equal(t, "a@b.c", session.Email)

	sessions.Clear()
	_, ok = sessions.Current()
	assert.Equal(t, false, ok)
}

func TestSessionStoreIdentityFromToken(t *testing.T) {
	sessions := NewSessionStore()

	// no explicit identity, fall back to the token claim
	sessions.SetCredential(testToken(t, "claim@b.c"), "")
	session, ok := sessions.Current()
	assert.Equal(t, true, ok)
	assert.Equal(t, "claim@b.c", session.Email)
}

func TestIdentityFromToken(t *testing.T) {
	email, err := IdentityFromToken(testToken(t, "a@b.c"))
	assert.Equal(t, err, nil)
	assert.Equal(t, "a@b.c", email)

	_, err = IdentityFromToken("not-a-jwt")
	assert.NotEqual(t, err, nil)
}

func TestCredentialStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")

	credentials, err := NewCredentialStore(path)
	assert.Equal(t, err, nil)

	// empty store
	session, err := credentials.Load("default")
	assert.Equal(t, err, nil)
	assert.Equal(t, session, nil)

	err = credentials.Save("default", "token-1", "a@b.c")
	assert.Equal(t, err, nil)
	// save again overwrites
	err = credentials.Save("default", "token-2", "a@b.c")
	assert.Equal(t, err, nil)
	credentials.Close()

	// a new store over the same file sees the persisted credential
	credentials, err = NewCredentialStore(path)
	assert.Equal(t, err, nil)
	defer credentials.Close()

	session, err = credentials.Load("default")
	assert.Equal(t, err, nil)
	assert.NotEqual(t, session, nil)
	assert.Equal(t, "token-2", session.Token)
	assert.Equal(t, "a@b.c", session.Email)

	err = credentials.Delete("default")
	assert.Equal(t, err, nil)
	session, err = credentials.Load("default")
	assert.Equal(t, err, nil)
	assert.Equal(t, session, nil)
}

func TestDurableSessionStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")

	credentials, err := NewCredentialStore(path)
	assert.Equal(t, err, nil)
	defer credentials.Close()

	sessions, err := NewDurableSessionStore(credentials, "default")
	assert.Equal(t, err, nil)

	sessions.SetCredential("token-1", "a@b.c")

	// a fresh store restores the persisted session
	restored, err := NewDurableSessionStore(credentials, "default")
	assert.Equal(t, err, nil)
	session, ok := restored.Current()
	assert.Equal(t, true, ok)
	assert.Equal(t, "token-1", session.Token)

	// clear erases the durable record too
	sessions.Clear()
	cleared, err := NewDurableSessionStore(credentials, "default")
	assert.Equal(t, err, nil)
	_, ok = cleared.Current()
	assert.Equal(t, false, ok)
}
