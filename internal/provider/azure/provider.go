package azure

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cln-scb-backup/internal/provider"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/retry"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/util"
)

type AzureProvider struct {
	client     *azblob.Client
	account    string
	container  string
	root       string
	endpoint   string // e.g. https://<account>.blob.core.windows.net/
	sas        string // raw SAS without leading "?"
	authViaSAS bool
	ro         retry.Options
}

func (p *AzureProvider) Name() string { return "azure:" + p.account + "/" + p.container }

func (p *AzureProvider) key(path string) string {
	return normalizeKey(provider.JoinPath(p.root, path))
}

// Put uploads the artifact and validates it (HEAD with SAS, list otherwise).
func (p *AzureProvider) Put(ctx context.Context, path string, data []byte) error {
	key := p.key(path)
	sum := util.SHA256Hex(data)
	size := int64(len(data))

	upStart := time.Now()
	upAttempt := 0
	uploadOnce := func(ctx context.Context) error {
		upAttempt++
		log.Debug().
			Str("action", "azure_upload").
			Str("container", p.container).
			Str("key", key).
			Int("attempt", upAttempt).
			Msg("starting attempt")

		_, err := p.client.UploadBuffer(ctx, p.container, key, data, &azblob.UploadBufferOptions{
			Metadata: map[string]*string{"sha256": to.Ptr(sum)},
		})
		if err != nil {
			log.Debug().Err(err).Str("action", "azure_upload").Str("container", p.container).Str("key", key).
				Int("attempt", upAttempt).Msg("attempt failed")
			return err
		}
		return nil
	}
	if err := retry.DoNotify(ctx, p.ro, p.isAzRetryable, retry.LogBackoff("azure_upload", p.container+"/"+key), uploadOnce); err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	log.Info().Str("action", "azure_upload").Str("container", p.container).Str("key", key).
		Int("attempts", upAttempt).Dur("elapsed_ms", time.Since(upStart)).Msg("upload OK")

	if p.authViaSAS {
		return p.validateByHead(ctx, key, size, sum)
	}
	return p.validateByList(ctx, key, size)
}

func (p *AzureProvider) validateByHead(ctx context.Context, key string, size int64, sum string) error {
	start := time.Now()
	attempt := 0
	headOnce := func(ctx context.Context) error {
		attempt++
		remoteSize, remoteSHA, err := p.headSizeAndSHA(ctx, key)
		if err != nil {
			log.Debug().Err(err).Str("action", "azure_head").Str("container", p.container).Str("key", key).
				Int("attempt", attempt).Msg("attempt failed")
			return err
		}
		return compareRemote(size, remoteSize, sum, remoteSHA)
	}
	if err := retry.Do(ctx, p.ro, p.isAzRetryable, headOnce); err != nil {
		return fmt.Errorf("validate (head): %w", err)
	}
	log.Debug().Str("action", "azure_head").Str("container", p.container).Str("key", key).
		Int("attempts", attempt).Dur("elapsed_ms", time.Since(start)).Msg("validation OK (sha256 & size)")
	return nil
}

func (p *AzureProvider) validateByList(ctx context.Context, key string, size int64) error {
	start := time.Now()
	attempt := 0
	validateOnce := func(ctx context.Context) error {
		attempt++
		found, remoteSize, err := p.validateSizeByList(ctx, key)
		if err != nil {
			log.Debug().Err(err).Str("action", "azure_list_validate").Str("container", p.container).Str("key", key).
				Int("attempt", attempt).Msg("attempt failed")
			return err
		}
		if !found {
			return fmt.Errorf("uploaded blob not found at %q", key)
		}
		if remoteSize != size {
			return fmt.Errorf("size mismatch: local=%d, remote=%d", size, remoteSize)
		}
		return nil
	}
	if err := retry.Do(ctx, p.ro, p.isAzRetryable, validateOnce); err != nil {
		return fmt.Errorf("validate (list): %w", err)
	}
	log.Debug().Str("action", "azure_list_validate").Str("container", p.container).Str("key", key).
		Int("attempts", attempt).Dur("elapsed_ms", time.Since(start)).Msg("validation OK (size)")
	return nil
}

// compareRemote checks what the service reports against what was sent.
func compareRemote(localSize, remoteSize int64, localSHA, remoteSHA string) error {
	if remoteSize != localSize {
		return fmt.Errorf("size mismatch: local=%d, remote=%d", localSize, remoteSize)
	}
	if remoteSHA == "" {
		return fmt.Errorf("missing metadata: sha256")
	}
	if remoteSHA != localSHA {
		return fmt.Errorf("sha256 mismatch: local=%s, remote=%s", localSHA, remoteSHA)
	}
	return nil
}

func normalizeKey(k string) string {
	return strings.TrimPrefix(k, "/")
}
