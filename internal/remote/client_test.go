package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskdesk/internal/domain"
)

func TestUpdateSendsPartialBodyWithBearer(t *testing.T) {
	var gotAuth, gotPath, gotMethod string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		gotMethod = r.Method
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_ = json.NewEncoder(w).Encode(domain.Task{ID: "t1", Title: "trimmed", Progress: 30})
	}))
	defer srv.Close()

	c := New(srv.URL+"/api/", "tok")
	res, err := c.Update(context.Background(), domain.KindTask, "t1", domain.Fields{"progress": 30})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "/api/tasks/t1", gotPath)
	assert.Equal(t, http.MethodPatch, gotMethod)
	assert.Equal(t, map[string]any{"progress": float64(30)}, gotBody)
	assert.Equal(t, "trimmed", res.(domain.Task).Title)
}

func TestListDecodesAccounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/users", r.URL.Path)
		_, _ = w.Write([]byte(`{"items":[{"id":"a1","username":"bob","role":"manager","department":"OP"}]}`))
	}))
	defer srv.Close()

	list, err := New(srv.URL+"/api", "tok").List(context.Background(), domain.KindAccount)
	require.NoError(t, err)
	require.Len(t, list, 1)
	acct := list[0].(domain.Account)
	assert.Equal(t, domain.RoleManager, acct.Role)
	assert.Equal(t, "OP", acct.Department)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		status int
		target error
	}{
		{http.StatusUnauthorized, ErrUnauthenticated},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusServiceUnavailable, ErrUnavailable},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":{"code":"x","message":"nope"}}`))
		}))
		err := New(srv.URL, "").Delete(context.Background(), domain.KindTask, "1")
		srv.Close()
		require.Error(t, err)
		assert.True(t, errors.Is(err, tc.target), "status %d", tc.status)
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "nope", apiErr.Message)
	}
}

func TestValidationErrorIsNotUnauthenticated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"code":"validation_failed","message":"progress must be between 0 and 100"}}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "tok").Update(context.Background(), domain.KindTask, "1", domain.Fields{"progress": 300})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnauthenticated))
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "validation_failed", apiErr.Code)
}

func TestDeadlineSurfacesAsContextError(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := New(srv.URL, "tok").List(ctx, domain.KindTask)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLoginStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			_, _ = w.Write([]byte(`{"token":"jwt-1","account":{"id":"u1","username":"bob","role":"user"}}`))
		case "/me":
			if r.Header.Get("Authorization") != "Bearer jwt-1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"id":"u1","username":"bob","role":"user"}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	sess, err := c.Login(context.Background(), "bob", "pw")
	require.NoError(t, err)
	assert.Equal(t, "jwt-1", sess.Token)
	me, err := c.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", me.ID)
}
