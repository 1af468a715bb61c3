package youtube

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestLoadToken(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadToken(filepath.Join(dir, "missing.json"))
	assert.ErrorIs(t, err, ErrNoToken)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{}`), 0600))
	_, err = LoadToken(empty)
	assert.ErrorIs(t, err, ErrNoToken)

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte(`{"access_token":`), 0600))
	_, err = LoadToken(corrupt)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoToken)
}

func TestSaveTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	want := &oauth2.Token{
		AccessToken:  "access",
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	require.NoError(t, SaveToken(path, want))
	got, err := LoadToken(path)
	require.NoError(t, err)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.Equal(t, want.RefreshToken, got.RefreshToken)
	assert.True(t, want.Expiry.Equal(got.Expiry))
}

func TestAuthenticateRefreshesAndPersists(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`)
	}))
	defer tokenServer.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer fresh", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer api.Close()

	dir := t.TempDir()
	secrets := filepath.Join(dir, "client_secrets.json")
	secretsJSON, err := json.Marshal(map[string]any{"installed": map[string]any{
		"client_id":     "id.apps.googleusercontent.com",
		"client_secret": "secret",
		"auth_uri":      tokenServer.URL + "/auth",
		"token_uri":     tokenServer.URL + "/token",
		"redirect_uris": []string{"http://localhost"},
	}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(secrets, secretsJSON, 0600))

	tokenPath := filepath.Join(dir, "token.json")
	require.NoError(t, SaveToken(tokenPath, &oauth2.Token{
		AccessToken:  "stale",
		RefreshToken: "refresh",
		Expiry:       time.Now().Add(-time.Hour),
	}))

	client, err := Authenticate(context.Background(), secrets, tokenPath, log.NewLogger())
	require.NoError(t, err)

	resp, err := client.Get(api.URL)
	require.NoError(t, err)
	resp.Body.Close()

	saved, err := LoadToken(tokenPath)
	require.NoError(t, err)
	assert.Equal(t, "fresh", saved.AccessToken)
	assert.Equal(t, "refresh", saved.RefreshToken, "refresh token is kept when the server omits it")
}

func TestAuthenticateWithoutToken(t *testing.T) {
	dir := t.TempDir()
	secrets := filepath.Join(dir, "client_secrets.json")
	require.NoError(t, os.WriteFile(secrets, []byte(`{"installed":{"client_id":"id","client_secret":"s","auth_uri":"https://a","token_uri":"https://t","redirect_uris":["http://localhost"]}}`), 0600))

	_, err := Authenticate(context.Background(), secrets, filepath.Join(dir, "token.json"), log.NewLogger())
	assert.ErrorIs(t, err, ErrNoToken)
}
