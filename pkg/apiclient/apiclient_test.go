package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_SendsTokenAndDecodes(t *testing.T) {
	var gotAuth, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/conversations/c%201/messages", "/conversations/c 1/messages":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			gotBody = body["body"]
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":"m1"}`))
		case "/users/me":
			w.Write([]byte(`null`))
		case "/users/u1/unread":
			w.Write([]byte(`{"c1":2}`))
		case "/typing":
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	c := New(srv.URL).WithToken("tok")

	id, err := c.SendMessage(ctx, "c 1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "m1", id)
	assert.Equal(t, "hello", gotBody)
	assert.Equal(t, "Bearer tok", gotAuth)

	u, err := c.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, u)

	counts, err := c.UnreadCounts(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"c1": 2}, counts)

	require.NoError(t, c.UpdateTyping(ctx, "u1"))
}

func TestClient_NullID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":null}`))
	}))
	defer srv.Close()

	id, err := New(srv.URL).SetOnline(context.Background())
	require.NoError(t, err)
	assert.Empty(t, id)
}

func TestClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":"not_a_member","message":"not a member of this conversation"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL).Messages(context.Background(), "c1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "not_a_member", apiErr.Code)
}
