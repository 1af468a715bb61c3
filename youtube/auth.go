package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"github.com/bitrise-io/go-utils/v2/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	yt "google.golang.org/api/youtube/v3"

	"ytupload/storage"
)

// Scopes requested for the saved token. Deleting videos needs the full
// youtube scope.
var Scopes = []string{
	yt.YoutubeScope,
	yt.YoutubeUploadScope,
	yt.YoutubeReadonlyScope,
}

// ErrNoToken indicates no saved token exists. The interactive consent flow
// is not part of this tool.
var ErrNoToken = errors.New("youtube: no saved token, authorize the application first")

// Authenticate builds an authenticated HTTP client from the OAuth client
// secrets file and the token saved at tokenPath. Refreshed tokens are
// written back to tokenPath.
func Authenticate(ctx context.Context, secretsPath, tokenPath string, logger log.Logger) (*http.Client, error) {
	if logger == nil {
		logger = log.NewLogger()
	}

	secrets, err := os.ReadFile(secretsPath)
	if err != nil {
		return nil, fmt.Errorf("read client secrets: %w", err)
	}
	cfg, err := google.ConfigFromJSON(secrets, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("parse client secrets: %w", err)
	}

	token, err := LoadToken(tokenPath)
	if err != nil {
		return nil, err
	}

	src := &persistingTokenSource{
		base:   cfg.TokenSource(ctx, token),
		path:   tokenPath,
		last:   token.AccessToken,
		logger: logger,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(token, src)), nil
}

// LoadToken reads a token saved as JSON.
func LoadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("parse token %s: %w", path, err)
	}
	if token.AccessToken == "" && token.RefreshToken == "" {
		return nil, ErrNoToken
	}
	return &token, nil
}

// SaveToken writes token to path atomically.
func SaveToken(path string, token *oauth2.Token) error {
	if err := storage.WriteJSONFile(path, token); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// persistingTokenSource saves every newly issued access token.
type persistingTokenSource struct {
	base   oauth2.TokenSource
	path   string
	logger log.Logger

	mu   sync.Mutex
	last string
}

func (s *persistingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken != s.last {
		if err := SaveToken(s.path, token); err != nil {
			s.logger.Warnf("Failed to persist refreshed token: %s", err)
		} else {
			s.logger.Debugf("Saved refreshed token to %s", s.path)
		}
		s.last = token.AccessToken
	}
	return token, nil
}
