package chatprofile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kt3v/etherialsoul-server/internal/chat"
)

func TestHTTPProviderResolveSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/profiles/user-1", r.URL.Path)
		assert.Equal(t, "tarot", r.URL.Query().Get("mode"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sign": "leo"}`))
	}))
	defer srv.Close()

	provider := NewHTTPProvider(Config{BaseURL: srv.URL, APIKey: "secret"})
	profile, err := provider.Resolve(context.Background(), "user-1", chat.ModeTarot)
	require.NoError(t, err)
	assert.Equal(t, "leo", profile["sign"])
}

func TestHTTPProviderResolveNotFoundReturnsNilWithoutError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	provider := NewHTTPProvider(Config{BaseURL: srv.URL})
	profile, err := provider.Resolve(context.Background(), "user-1", chat.ModeAstro)
	require.NoError(t, err)
	assert.Nil(t, profile)
}

func TestHTTPProviderResolveServerErrorReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	provider := NewHTTPProvider(Config{BaseURL: srv.URL})
	_, err := provider.Resolve(context.Background(), "user-1", chat.ModeAstro)
	assert.Error(t, err)
}

func TestHTTPProviderResolveMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	provider := NewHTTPProvider(Config{BaseURL: srv.URL})
	_, err := provider.Resolve(context.Background(), "user-1", chat.ModeAstro)
	assert.Error(t, err)
}

func TestHTTPProviderNoAuthHeaderWithoutAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	provider := NewHTTPProvider(Config{BaseURL: srv.URL})
	_, err := provider.Resolve(context.Background(), "user-1", chat.ModeAstro)
	require.NoError(t, err)
}
