// Package destination turns configuration blocks into a provider.Multi.
package destination

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cln-scb-backup/internal/config"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/provider"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/provider/azure"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/provider/gcs"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/provider/local"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/provider/s3"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/provider/webdav"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/retry"
)

// ErrNoDestinations is returned when the configuration yields no destination.
var ErrNoDestinations = errors.New("no backup destination configured")

// Kind names a backend family.
type Kind string

const (
	KindS3     Kind = "s3"
	KindWebDAV Kind = "webdav"
	KindAzure  Kind = "azure"
	KindGCS    Kind = "gcs"
	KindLocal  Kind = "local"
)

// Factories builds one provider per backend family.
type Factories struct {
	S3     func(context.Context, config.S3Config, retry.Options) (provider.Provider, error)
	WebDAV func(config.WebDAVConfig, retry.Options) (provider.Provider, error)
	Azure  func(context.Context, config.AzureConfig, retry.Options) (provider.Provider, error)
	GCS    func(context.Context, config.GCSConfig, retry.Options) (provider.Provider, error)
	Local  func(config.LocalConfig) (provider.Provider, error)
}

// Default wires the real backends.
var Default = Factories{
	S3: func(ctx context.Context, c config.S3Config, ro retry.Options) (provider.Provider, error) {
		return s3.New(ctx, c, ro)
	},
	WebDAV: func(c config.WebDAVConfig, ro retry.Options) (provider.Provider, error) {
		return webdav.New(c, ro)
	},
	Azure: func(ctx context.Context, c config.AzureConfig, ro retry.Options) (provider.Provider, error) {
		return azure.New(ctx, c, ro)
	},
	GCS: func(ctx context.Context, c config.GCSConfig, ro retry.Options) (provider.Provider, error) {
		return gcs.New(ctx, c, ro)
	},
	Local: func(c config.LocalConfig) (provider.Provider, error) {
		return local.New(c)
	},
}

// Build constructs every configured destination with the real backends.
func Build(ctx context.Context, cfg config.Config) (*provider.Multi, error) {
	return Default.Build(ctx, cfg)
}

// Build iterates s3, webdav, azure, gcs, local in that order (file order
// within a kind). The first construction failure aborts the whole build.
func (f Factories) Build(ctx context.Context, cfg config.Config) (*provider.Multi, error) {
	ro := cfg.RetryOptions()
	multi := provider.NewMulti()

	add := func(kind Kind, i int, p provider.Provider, err error) error {
		if err != nil {
			return fmt.Errorf("destination %s[%d]: %w", kind, i, err)
		}
		multi.Add(p)
		log.Info().
			Str("action", "destination_add").
			Str("kind", string(kind)).
			Str("destination", p.Name()).
			Msg("destination ready")
		return nil
	}

	for i, c := range cfg.S3 {
		p, err := f.S3(ctx, c, ro)
		if err := add(KindS3, i, p, err); err != nil {
			return nil, err
		}
	}
	for i, c := range cfg.WebDAV {
		p, err := f.WebDAV(c, ro)
		if err := add(KindWebDAV, i, p, err); err != nil {
			return nil, err
		}
	}
	for i, c := range cfg.Azure {
		p, err := f.Azure(ctx, c, ro)
		if err := add(KindAzure, i, p, err); err != nil {
			return nil, err
		}
	}
	for i, c := range cfg.GCS {
		p, err := f.GCS(ctx, c, ro)
		if err := add(KindGCS, i, p, err); err != nil {
			return nil, err
		}
	}
	for i, c := range cfg.Local {
		p, err := f.Local(c)
		if err := add(KindLocal, i, p, err); err != nil {
			return nil, err
		}
	}

	if multi.IsEmpty() {
		return nil, ErrNoDestinations
	}
	return multi, nil
}
