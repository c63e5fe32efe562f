package webdav

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/studio-b12/gowebdav"

	"github.com/Chapsvision-dev/cln-scb-backup/internal/config"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/provider"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/retry"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/version"
)

// AuthMode is how the client authenticates against the server.
type AuthMode string

const (
	AuthAnonymous AuthMode = "anonymous"
	AuthBasic     AuthMode = "basic"
)

// WebDAVProvider stores artifacts on a WebDAV collection (Nextcloud, Apache
// mod_dav, rclone serve webdav, ...).
type WebDAVProvider struct {
	// gowebdav negotiates auth lazily on the shared client.
	mu       sync.Mutex
	client   *gowebdav.Client
	endpoint string
	root     string
	auth     AuthMode
	ro       retry.Options
}

// authMode accepts either no credentials or both user and password.
func authMode(user, password string) (AuthMode, error) {
	switch {
	case user != "" && password != "":
		return AuthBasic, nil
	case user == "" && password == "":
		return AuthAnonymous, nil
	case password == "":
		return "", errors.New("webdav: user provided but password is missing")
	default:
		return "", errors.New("webdav: password provided but user is missing")
	}
}

// New validates credentials and builds the client. No request is sent:
// servers commonly refuse PROPFIND on the root for upload-only accounts.
func New(c config.WebDAVConfig, ro retry.Options) (*WebDAVProvider, error) {
	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		return nil, errors.New("webdav: endpoint is required")
	}
	mode, err := authMode(c.User, c.Password)
	if err != nil {
		return nil, err
	}

	client := gowebdav.NewClient(endpoint, c.User, c.Password)
	if c.Timeout > 0 {
		client.SetTimeout(c.Timeout)
	}
	client.SetHeader("User-Agent", version.UserAgent())

	log.Info().
		Str("action", "webdav_init").
		Str("endpoint", endpoint).
		Str("auth", string(mode)).
		Msg("using WebDAV endpoint")

	return &WebDAVProvider{
		client:   client,
		endpoint: endpoint,
		root:     provider.NormalizeRoot(c.Path),
		auth:     mode,
		ro:       ro,
	}, nil
}

func (p *WebDAVProvider) Name() string { return "webdav:" + p.endpoint }

// Auth reports the selected authentication mode.
func (p *WebDAVProvider) Auth() AuthMode { return p.auth }

// Put writes data to root/path; missing parent collections are created by
// the client.
func (p *WebDAVProvider) Put(ctx context.Context, path string, data []byte) error {
	target := provider.JoinPath(p.root, path)

	start := time.Now()
	attempt := 0
	writeOnce := func(ctx context.Context) error {
		attempt++
		if err := ctx.Err(); err != nil {
			return err
		}
		p.mu.Lock()
		err := p.client.Write(target, data, 0o644)
		p.mu.Unlock()
		if err != nil {
			log.Debug().Err(err).Str("action", "webdav_put").Str("path", target).
				Int("attempt", attempt).Msg("attempt failed")
		}
		return err
	}
	if err := retry.DoNotify(ctx, p.ro, isRetryable, retry.LogBackoff("webdav_put", target), writeOnce); err != nil {
		return fmt.Errorf("webdav put %s: %w", target, err)
	}
	log.Info().Str("action", "webdav_put").Str("endpoint", p.endpoint).Str("path", target).
		Int("attempts", attempt).Dur("elapsed_ms", time.Since(start)).Msg("upload OK")
	return nil
}

// isRetryable only retries network timeouts; HTTP status failures from
// WebDAV servers are almost always permission or quota problems.
func isRetryable(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
