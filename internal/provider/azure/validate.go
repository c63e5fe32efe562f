package azure

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cln-scb-backup/internal/retry"
)

// ensureContainer lists at most one blob: a container SAS (sr=c) can list
// but cannot create, so the container must already exist.
func (p *AzureProvider) ensureContainer(ctx context.Context) error {
	start := time.Now()
	attempt := 0
	ensureOnce := func(ctx context.Context) error {
		attempt++
		pager := p.client.NewListBlobsFlatPager(p.container, &azblob.ListBlobsFlatOptions{
			MaxResults: to.Ptr(int32(1)),
		})
		if !pager.More() {
			return nil
		}
		_, err := pager.NextPage(ctx)
		if err == nil {
			return nil
		}
		if mapped := containerError(p.container, err); mapped != nil {
			return mapped
		}
		log.Debug().Err(err).Str("action", "azure_container_check").Str("container", p.container).
			Int("attempt", attempt).Msg("attempt failed")
		return err
	}
	if err := retry.Do(ctx, p.ro, p.isAzRetryable, ensureOnce); err != nil {
		return err
	}
	log.Debug().Str("action", "azure_container_check").Str("container", p.container).
		Int("attempts", attempt).Dur("elapsed_ms", time.Since(start)).Msg("container access OK")
	return nil
}

// containerError turns well-known service codes into actionable messages.
// Returns nil for anything else.
func containerError(container string, err error) error {
	var re *azcore.ResponseError
	if !errors.As(err, &re) {
		return nil
	}
	switch re.ErrorCode {
	case string(bloberror.ContainerNotFound):
		return fmt.Errorf("container %q not found: create it first", container)
	case string(bloberror.AuthorizationFailure),
		string(bloberror.AuthorizationPermissionMismatch),
		string(bloberror.AuthenticationFailed):
		return fmt.Errorf("not authorized for container %q; a container SAS needs at least rwl", container)
	}
	return nil
}

// validateSizeByList finds the exact blob and returns (found, size).
func (p *AzureProvider) validateSizeByList(ctx context.Context, exactKey string) (bool, int64, error) {
	pager := p.client.NewListBlobsFlatPager(p.container, &azblob.ListBlobsFlatOptions{
		Prefix:     to.Ptr(exactKey),
		MaxResults: to.Ptr(int32(1)),
	})
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return false, 0, err
		}
		for _, it := range page.Segment.BlobItems {
			if it.Name == nil || *it.Name != exactKey {
				continue
			}
			if it.Properties != nil && it.Properties.ContentLength != nil {
				return true, *it.Properties.ContentLength, nil
			}
			return true, 0, nil
		}
	}
	return false, 0, nil
}

// isAzRetryable: timeout, 5xx, 429, 408, ServerBusy.
func (p *AzureProvider) isAzRetryable(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	var he *headStatusError
	if errors.As(err, &he) {
		return retryableStatus(he.StatusCode)
	}
	var re *azcore.ResponseError
	if errors.As(err, &re) {
		return retryableStatus(re.StatusCode) || re.ErrorCode == string(bloberror.ServerBusy)
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusRequestTimeout || (code >= 500 && code <= 599)
}
