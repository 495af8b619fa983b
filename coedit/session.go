package coedit

import (
	"database/sql"
	"fmt"
	"sync"

	gojwt "github.com/golang-jwt/jwt/v5"

	_ "github.com/mattn/go-sqlite3"
)

// Session is the current credential and identity.
// Absent means logged out, which implies the document cache and the
// active edit session are empty.
type Session struct {
	Token string
	Email string
}

// SessionStore gates all other activity. It makes no network calls.
// Credential changes are written through to the durable credential
// store so that a session survives process restarts; Clear erases the
// durable record too. Callers are responsible for invalidating the
// store on authorization failure.
type SessionStore struct {
	mutex sync.Mutex

	session *Session

	credentials *CredentialStore
	profile     string
}

// NewSessionStore keeps the session in memory only.
func NewSessionStore() *SessionStore {
	return &SessionStore{}
}

// NewDurableSessionStore writes the session through to `credentials`
// under `profile`, and restores any persisted session immediately.
func NewDurableSessionStore(credentials *CredentialStore, profile string) (*SessionStore, error) {
	store := &SessionStore{
		credentials: credentials,
		profile:     profile,
	}
	session, err := credentials.Load(profile)
	if err != nil {
		return nil, err
	}
	store.session = session
	return store, nil
}

func (self *SessionStore) SetCredential(token string, email string) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if email == "" {
		// fall back to the identity claim in the token
		email, _ = IdentityFromToken(token)
	}
	self.session = &Session{
		Token: token,
		Email: email,
	}
	if self.credentials != nil {
		if err := self.credentials.Save(self.profile, token, email); err != nil {
			sessionLog("persist credential error = %s", err)
		}
	}
}

func (self *SessionStore) Clear() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.session = nil
	if self.credentials != nil {
		if err := self.credentials.Delete(self.profile); err != nil {
			sessionLog("erase credential error = %s", err)
		}
	}
}

func (self *SessionStore) Current() (*Session, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.session == nil {
		return nil, false
	}
	session := *self.session
	return &session, true
}

var sessionLog = LogFn(LogLevelInfo, "session")

// IdentityFromToken extracts the identity claim from the credential
// without verifying the signature. Verification belongs to the server;
// the client only needs a display identity.
func IdentityFromToken(token string) (string, error) {
	parser := gojwt.NewParser()
	parsed, _, err := parser.ParseUnverified(token, gojwt.MapClaims{})
	if err != nil {
		return "", err
	}

	claims := parsed.Claims.(gojwt.MapClaims)
	if email, ok := claims["email"].(string); ok {
		return email, nil
	}
	return "", fmt.Errorf("no identity claim in token")
}

// CredentialStore is the durable local storage for credentials,
// one row per profile. It is the localStorage analogue for headless
// clients.
type CredentialStore struct {
	db *sql.DB
}

func NewCredentialStore(path string) (*CredentialStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS credentials (
		profile TEXT PRIMARY KEY,
		token TEXT NOT NULL,
		email TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &CredentialStore{
		db: db,
	}, nil
}

// Load returns nil with no error when no credential is stored.
func (self *CredentialStore) Load(profile string) (*Session, error) {
	row := self.db.QueryRow(
		`SELECT token, email FROM credentials WHERE profile = ?`,
		profile,
	)
	var token string
	var email string
	err := row.Scan(&token, &email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Session{
		Token: token,
		Email: email,
	}, nil
}

func (self *CredentialStore) Save(profile string, token string, email string) error {
	_, err := self.db.Exec(
		`INSERT INTO credentials (profile, token, email, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (profile) DO UPDATE SET token = excluded.token, email = excluded.email, updated_at = CURRENT_TIMESTAMP`,
		profile,
		token,
		email,
	)
	return err
}

func (self *CredentialStore) Delete(profile string) error {
	_, err := self.db.Exec(
		`DELETE FROM credentials WHERE profile = ?`,
		profile,
	)
	return err
}

func (self *CredentialStore) Close() error {
	return self.db.Close()
}
