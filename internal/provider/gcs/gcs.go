package gcs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog/log"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Chapsvision-dev/cln-scb-backup/internal/config"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/provider"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/retry"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/util"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/version"
)

// GCSProvider writes artifacts to a Google Cloud Storage bucket.
type GCSProvider struct {
	client *storage.Client
	bucket string
	root   string
	ro     retry.Options
}

func clientOptions(c config.GCSConfig) []option.ClientOption {
	opts := []option.ClientOption{option.WithUserAgent(version.UserAgent())}
	if c.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(c.CredentialsFile))
	}
	if ep := strings.TrimSpace(c.Endpoint); ep != "" {
		// Emulators (fake-gcs-server) do not check credentials.
		opts = append(opts, option.WithEndpoint(ep))
		if c.CredentialsFile == "" {
			opts = append(opts, option.WithoutAuthentication())
		}
	}
	return opts
}

// New creates the client and reads the bucket attributes once.
func New(ctx context.Context, c config.GCSConfig, ro retry.Options) (*GCSProvider, error) {
	if strings.TrimSpace(c.Bucket) == "" {
		return nil, errors.New("gcs: bucket is required")
	}
	client, err := storage.NewClient(ctx, clientOptions(c)...)
	if err != nil {
		return nil, fmt.Errorf("gcs: client: %w", err)
	}
	p := &GCSProvider{
		client: client,
		bucket: c.Bucket,
		root:   provider.NormalizeRoot(c.Path),
		ro:     ro,
	}
	log.Info().
		Str("action", "gcs_init").
		Str("bucket", c.Bucket).
		Str("root", p.root).
		Msg("using GCS bucket")

	if _, err := client.Bucket(c.Bucket).Attrs(ctx); err != nil {
		_ = client.Close()
		if errors.Is(err, storage.ErrBucketNotExist) {
			return nil, fmt.Errorf("gcs: bucket %q does not exist", c.Bucket)
		}
		return nil, fmt.Errorf("gcs: bucket %q: %w", c.Bucket, err)
	}
	return p, nil
}

func (p *GCSProvider) Name() string { return "gcs:" + p.bucket }

func (p *GCSProvider) key(path string) string {
	return strings.TrimPrefix(provider.JoinPath(p.root, path), "/")
}

func (p *GCSProvider) Put(ctx context.Context, path string, data []byte) error {
	key := p.key(path)
	sum := util.SHA256Hex(data)

	start := time.Now()
	attempt := 0
	putOnce := func(ctx context.Context) error {
		attempt++
		w := p.client.Bucket(p.bucket).Object(key).NewWriter(ctx)
		w.ContentType = "application/octet-stream"
		w.Metadata = map[string]string{"sha256": sum}
		if _, err := w.Write(data); err != nil {
			_ = w.Close()
			return err
		}
		err := w.Close()
		if err != nil {
			log.Debug().Err(err).Str("action", "gcs_put").Str("bucket", p.bucket).Str("key", key).
				Int("attempt", attempt).Msg("attempt failed")
		}
		return err
	}
	if err := retry.DoNotify(ctx, p.ro, isRetryable, retry.LogBackoff("gcs_put", p.bucket+"/"+key), putOnce); err != nil {
		return fmt.Errorf("gcs put %s: %w", key, err)
	}
	log.Info().Str("action", "gcs_put").Str("bucket", p.bucket).Str("key", key).
		Int("attempts", attempt).Dur("elapsed_ms", time.Since(start)).Msg("upload OK")
	return nil
}

// Close releases the underlying client.
func (p *GCSProvider) Close() error { return p.client.Close() }

func isRetryable(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var ge *googleapi.Error
	if errors.As(err, &ge) {
		return ge.Code == http.StatusTooManyRequests || ge.Code == http.StatusRequestTimeout || ge.Code >= 500
	}
	return false
}
