package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTransport_AppliesBasicAuth(t *testing.T) {
	var header string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Authorization")
	}))
	defer server.Close()

	basic, err := NewBasicAuth("demo", "demo")
	require.NoError(t, err)
	client := &http.Client{Transport: &Transport{Authenticator: basic}}

	resp, err := client.Get(server.URL)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, "Basic ZGVtbzpkZW1v", header)
}

func TestTransport_AppliesBearerToken(t *testing.T) {
	tokens := newTokenServer(t)
	var header string
	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header = r.Header.Get("Authorization")
	}))
	defer api.Close()

	client := &http.Client{Transport: &Transport{Authenticator: &BearerAuth{Tokens: newTestManager(t, tokens.URL)}}}
	for i := 0; i < 3; i++ {
		resp, err := client.Get(api.URL)
		require.NoError(t, err)
		_ = resp.Body.Close()
	}
	require.Equal(t, "Bearer token-1", header)
	require.Equal(t, int32(1), tokens.calls.Load())
}

func TestNoAuth_LeavesHeaderUnset(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	require.NoError(t, NoAuth{}.Authenticate(context.Background(), req))
	require.Empty(t, req.Header.Get("Authorization"))
}

func TestNewBasicAuth_RequiresUsername(t *testing.T) {
	_, err := NewBasicAuth(" ", "pw")
	require.Error(t, err)
}

func TestClientCredentialsRequest_Validate(t *testing.T) {
	require.ErrorIs(t, ClientCredentialsRequest{TokenURL: "https://idp/token", ClientSecret: "s"}.Validate(), ErrMissingCredentials)
	require.Error(t, ClientCredentialsRequest{TokenURL: "not a url", ClientID: "i", ClientSecret: "s"}.Validate())
	require.NoError(t, ClientCredentialsRequest{TokenURL: "https://idp/token", ClientID: "i", ClientSecret: "s"}.Validate())
}
