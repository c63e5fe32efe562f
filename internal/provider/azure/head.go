package azure

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Chapsvision-dev/cln-scb-backup/internal/version"
)

const headTimeout = 15 * time.Second

// blobURL is endpoint/container/key?sas with the key path-escaped.
func (p *AzureProvider) blobURL(key string) string {
	u := p.endpoint + p.container + "/" + (&url.URL{Path: normalizeKey(key)}).EscapedPath()
	if p.sas != "" {
		u += "?" + p.sas
	}
	return u
}

// headSizeAndSHA reads Content-Length and x-ms-meta-sha256 with a plain
// HEAD; only used when a SAS is configured.
func (p *AzureProvider) headSizeAndSHA(ctx context.Context, key string) (int64, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.blobURL(key), http.NoBody)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	cli := &http.Client{Timeout: headTimeout}
	resp, err := cli.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, "", &headStatusError{Key: key, StatusCode: resp.StatusCode, Status: resp.Status}
	}

	cl := resp.Header.Get("Content-Length")
	if cl == "" {
		return 0, "", fmt.Errorf("missing Content-Length")
	}
	n, err := strconv.ParseInt(cl, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("parse Content-Length: %w", err)
	}
	return n, resp.Header.Get("x-ms-meta-sha256"), nil
}

// headStatusError keeps the status so 5xx answers stay retryable.
type headStatusError struct {
	Key        string
	StatusCode int
	Status     string
}

func (e *headStatusError) Error() string {
	return fmt.Sprintf("HEAD %s: %s", e.Key, e.Status)
}
