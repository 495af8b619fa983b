package coedit

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestApiGetItems(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "GET", r.Method)
		assert.Equal(t, "/api/items", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		json.NewEncoder(w).Encode([]*Document{
			{Id: "d1", Title: "one", Description: "l1\nl2"},
		})
	}))
	defer server.Close()

	api := NewApi(server.URL)
	defer api.Close()
	api.SetToken("token-1")

	documents, err := api.GetItemsSync()
	assert.Equal(t, err, nil)
	assert.Equal(t, "Bearer token-1", gotAuth)
	assert.Equal(t, 1, len(documents))
	assert.Equal(t, "d1", documents[0].Id)
	assert.Equal(t, "l1\nl2", documents[0].Description)
}

func TestApiHttpError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	api := NewApi(server.URL)
	defer api.Close()

	_, err := api.GetItemsSync()
	assert.NotEqual(t, err, nil)

	httpError, ok := err.(*HttpError)
	assert.Equal(t, true, ok)
	assert.Equal(t, http.StatusForbidden, httpError.Status)
	assert.Equal(t, "GET /api/items", httpError.Op)
	assert.Equal(t, true, IsAuthError(err))
}

func TestApiIsAuthError(t *testing.T) {
	assert.Equal(t, true, IsAuthError(&HttpError{Status: 401, Op: "x"}))
	assert.Equal(t, true, IsAuthError(&HttpError{Status: 403, Op: "x"}))
	assert.Equal(t, false, IsAuthError(&HttpError{Status: 500, Op: "x"}))
	assert.Equal(t, false, IsAuthError(ErrLoggedOut))
	assert.Equal(t, false, IsAuthError(nil))
}

func TestApiCreateComment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/items/d1/comments", r.URL.Path)

		var args CreateCommentArgs
		json.NewDecoder(r.Body).Decode(&args)
		assert.Equal(t, 2, args.Line)
		assert.Equal(t, "hi", args.Text)

		json.NewEncoder(w).Encode(&Comment{
			Id:         "c1",
			DocumentId: "d1",
			Line:       args.Line,
			Text:       args.Text,
		})
	}))
	defer server.Close()

	api := NewApi(server.URL)
	defer api.Close()

	comment, err := api.CreateCommentSync("d1", &CreateCommentArgs{
		Line: 2,
		Text: "hi",
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, "c1", comment.Id)
	assert.Equal(t, 2, comment.Line)
}

func TestApiAsyncCallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(&AuthLoginResult{Token: "token-1"})
	}))
	defer server.Close()

	api := NewApi(server.URL)
	defer api.Close()

	callback, resultChannel := NewBlockingApiCallback[*AuthLoginResult]()
	api.AuthLogin(&AuthLoginArgs{Email: "a@b.c", Password: "pw"}, callback)

	result := <-resultChannel
	assert.Equal(t, result.Error, nil)
	assert.Equal(t, "token-1", result.Result.Token)
}

func TestApiEmptyResponseBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	api := NewApi(server.URL)
	defer api.Close()

	result, err := api.DeleteItemSync("d1")
	assert.Equal(t, err, nil)
	assert.NotEqual(t, result, nil)
}
