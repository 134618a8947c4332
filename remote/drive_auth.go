package remote

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/cerdastangkas/gdrive-uploader/config"
	"github.com/cerdastangkas/gdrive-uploader/logger"
)

// DriveAuthenticator turns a credentials file into an authenticated Drive service.
// OAuth client credentials use a cached token file and fall back to an interactive
// code exchange; service account keys are used directly.
type DriveAuthenticator struct {
	cfg    *config.DriveConfig
	logger logger.Logger

	// In and Out carry the interactive authorization prompt
	In  io.Reader
	Out io.Writer
}

func NewDriveAuthenticator(cfg *config.DriveConfig, log logger.Logger) *DriveAuthenticator {
	return &DriveAuthenticator{
		cfg:    cfg,
		logger: logger.OrNoOp(log),
		In:     os.Stdin,
		Out:    os.Stderr,
	}
}

// NewDriveBackendFromConfig authenticates and returns a backend bound to the resulting service
func NewDriveBackendFromConfig(ctx context.Context, cfg *config.DriveConfig, log logger.Logger) (*DriveBackend, error) {
	cfg.ApplyDefaults()
	svc, err := NewDriveAuthenticator(cfg, log).Service(ctx)
	if err != nil {
		return nil, err
	}
	return NewDriveBackend(NewFileService(svc, cfg.SharedDrives), log), nil
}

// Service returns a Drive service authorized with the configured credentials
func (a *DriveAuthenticator) Service(ctx context.Context) (*drive.Service, error) {
	client, err := a.HTTPClient(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Drive service: %v", ErrAuth, err)
	}
	return svc, nil
}

// HTTPClient returns an http.Client that adds Drive credentials to requests
func (a *DriveAuthenticator) HTTPClient(ctx context.Context) (*http.Client, error) {
	data, err := os.ReadFile(a.cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("%w: cannot read credentials file %s: %v", ErrAuth, a.cfg.CredentialsFile, err)
	}

	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("%w: credentials file %s is not valid JSON: %v", ErrAuth, a.cfg.CredentialsFile, err)
	}

	if probe.Type == "service_account" {
		jwt, err := google.JWTConfigFromJSON(data, drive.DriveScope)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid service account key: %v", ErrAuth, err)
		}
		a.logger.Debug("Using service account %s", jwt.Email)
		return jwt.Client(ctx), nil
	}

	oauthCfg, err := google.ConfigFromJSON(data, drive.DriveScope)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid OAuth client credentials: %v", ErrAuth, err)
	}

	tok, err := readToken(a.cfg.TokenFile)
	if err != nil {
		a.logger.Debug("No usable token in %s: %v", a.cfg.TokenFile, err)
		if a.cfg.NoPrompt {
			return nil, fmt.Errorf("%w: no token in %s and prompting is disabled", ErrAuth, a.cfg.TokenFile)
		}
		tok, err = a.exchange(ctx, oauthCfg)
		if err != nil {
			return nil, err
		}
		if err := writeToken(a.cfg.TokenFile, tok); err != nil {
			a.logger.Warn("Cannot save token to %s: %v", a.cfg.TokenFile, err)
		}
	}

	ts := &savingTokenSource{
		base:   oauthCfg.TokenSource(ctx, tok),
		path:   a.cfg.TokenFile,
		last:   tok.AccessToken,
		logger: a.logger,
	}
	return oauth2.NewClient(ctx, oauth2.ReuseTokenSource(tok, ts)), nil
}

// exchange runs the installed-app flow: print the consent URL, read the code back
func (a *DriveAuthenticator) exchange(ctx context.Context, oauthCfg *oauth2.Config) (*oauth2.Token, error) {
	state, err := randomState()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if oauthCfg.RedirectURL == "" {
		oauthCfg.RedirectURL = "urn:ietf:wg:oauth:2.0:oob"
	}

	url := oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintf(a.Out, "Open the following link in your browser, authorize access and paste the code here:\n\n%s\n\nCode: ", url)

	line, err := bufio.NewReader(a.In).ReadString('\n')
	if err != nil && line == "" {
		return nil, fmt.Errorf("%w: failed to read authorization code: %v", ErrAuth, err)
	}
	code := strings.TrimSpace(line)
	if code == "" {
		return nil, fmt.Errorf("%w: empty authorization code", ErrAuth)
	}

	tok, err := oauthCfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to exchange authorization code: %v", ErrAuth, err)
	}
	return tok, nil
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func readToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	tok := &oauth2.Token{}
	if err := json.Unmarshal(data, tok); err != nil {
		return nil, err
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("token file has neither access nor refresh token")
	}
	return tok, nil
}

func writeToken(path string, tok *oauth2.Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return os.WriteFile(path, data, 0600)
}

// savingTokenSource persists refreshed tokens so later runs skip the refresh
type savingTokenSource struct {
	base   oauth2.TokenSource
	path   string
	logger logger.Logger

	mu   sync.Mutex
	last string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: token refresh failed: %v", ErrAuth, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.AccessToken != s.last {
		s.last = tok.AccessToken
		if err := writeToken(s.path, tok); err != nil {
			s.logger.Warn("Cannot save refreshed token to %s: %v", s.path, err)
		}
	}
	return tok, nil
}
