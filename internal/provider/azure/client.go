package azure

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cln-scb-backup/internal/config"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/provider"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/retry"
)

// serviceEndpoint returns the blob endpoint with a trailing slash.
func serviceEndpoint(c config.AzureConfig) string {
	endpoint := strings.TrimSpace(c.Endpoint)
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", c.Account)
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	return endpoint
}

// Build client from config and capture endpoint/SAS for HEAD validation.
// Priority: 1) SAS  2) Service Principal  3) DefaultAzureCredential.
func newClientFromConfig(c config.AzureConfig) (*azblob.Client, string, string, bool, error) {
	endpoint := serviceEndpoint(c)

	// 1) SAS
	if sasRaw := strings.TrimSpace(c.SASToken); sasRaw != "" {
		sas := strings.TrimPrefix(sasRaw, "?")
		cl, err := azblob.NewClientWithNoCredential(endpoint+"?"+sas, nil)
		return cl, endpoint, sas, true, err
	}

	// 2) Service Principal
	if c.ClientID != "" && c.ClientSecret != "" && c.TenantID != "" {
		cred, err := azidentity.NewClientSecretCredential(c.TenantID, c.ClientID, c.ClientSecret, nil)
		if err != nil {
			return nil, "", "", false, err
		}
		cl, err := azblob.NewClient(endpoint, cred, nil)
		return cl, endpoint, "", false, err
	}

	// 3) Managed Identity / DefaultAzureCredential
	defCred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, "", "", false, err
	}
	cl, err := azblob.NewClient(endpoint, defCred, nil)
	return cl, endpoint, "", false, err
}

// New builds the client and checks container access before returning.
func New(ctx context.Context, c config.AzureConfig, ro retry.Options) (*AzureProvider, error) {
	client, endpoint, sas, viaSAS, err := newClientFromConfig(c)
	if err != nil {
		return nil, fmt.Errorf("azure: client: %w", err)
	}
	p := &AzureProvider{
		client:     client,
		account:    c.Account,
		container:  c.Container,
		root:       provider.NormalizeRoot(c.Path),
		endpoint:   endpoint,
		sas:        sas,
		authViaSAS: viaSAS,
		ro:         ro,
	}
	log.Info().
		Str("action", "azure_init").
		Str("account", c.Account).
		Str("container", c.Container).
		Bool("sas", viaSAS).
		Msg("using Azure container")

	if err := p.ensureContainer(ctx); err != nil {
		return nil, fmt.Errorf("azure: %w", err)
	}
	return p, nil
}
