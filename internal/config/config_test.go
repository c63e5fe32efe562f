package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Chapsvision-dev/cln-scb-backup/internal/compression"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/retry"
)

var envKeys = []string{
	"BACKUP_CONFIG_PATH", "BACKUP_COMPRESSION", "LIGHTNING_RPC_FILE", "LIGHTNING_RPC_TIMEOUT",
	"RETRY_MAX_ATTEMPTS", "RETRY_INITIAL_DELAY", "RETRY_MAX_DELAY", "RETRY_MULTIPLIER", "RETRY_JITTER",
	"S3_ENDPOINT", "S3_BUCKET", "S3_PATH", "S3_REGION", "S3_ACCESS_KEY", "S3_SECRET_KEY",
	"WEBDAV_ENDPOINT", "WEBDAV_USER", "WEBDAV_PASSWORD", "WEBDAV_PATH",
	"AZURE_STORAGE_ACCOUNT", "AZURE_STORAGE_CONTAINER", "AZURE_STORAGE_PATH", "AZURE_BLOB_ENDPOINT",
	"AZURE_STORAGE_SAS", "AZURE_CLIENT_ID", "AZURE_CLIENT_SECRET", "AZURE_TENANT_ID",
	"GCS_BUCKET", "GCS_PATH", "GCS_CREDENTIALS_FILE", "GCS_ENDPOINT", "BACKUP_LOCAL_DIR",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "backup.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

const sample = `
compression: zstd
rpc_timeout: 5s
s3:
  - endpoint: http://minio:9000
    bucket: scb
    path: node1/
    access_key: ak
    secret_key: ${TEST_S3_SECRET}
  - endpoint: https://s3.example.com
    bucket: scb-offsite
    access_key: ak2
    secret_key: sk2
    timeout: 10s
webdav:
  - endpoint: https://dav.example.com/remote.php/dav/files/me
    user: me
    password: pw
local:
  - dir: /var/backups/scb
`

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_S3_SECRET", "from-env")
	path := writeFile(t, sample)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, cfg.Path)
	assert.Equal(t, compression.TypeZstd, cfg.CompressionType())
	assert.Equal(t, 5*time.Second, cfg.RPCTimeout)
	require.Len(t, cfg.S3, 2)
	assert.Equal(t, "from-env", cfg.S3[0].SecretKey)
	assert.Equal(t, "node1/", cfg.S3[0].Path)
	assert.Equal(t, DefaultUploadTimeout, cfg.S3[0].Timeout)
	assert.Equal(t, 10*time.Second, cfg.S3[1].Timeout)
	require.Len(t, cfg.WebDAV, 1)
	assert.Equal(t, "me", cfg.WebDAV[0].User)
	require.Len(t, cfg.Local, 1)
	assert.Equal(t, 4, cfg.Destinations())
}

func TestParse_KeepsLiteralDollar(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_S3_SECRET", "from-env")
	cfg, err := Parse([]byte(`
s3:
  - endpoint: http://minio:9000
    bucket: scb
    access_key: ak
    secret_key: ${TEST_S3_SECRET}
webdav:
  - endpoint: https://dav
    user: alice
    password: "pa$sw0rd"
  - endpoint: https://dav2
    user: bob
    password: "$HOME-$${SCB_TEST_UNSET_VAR}"
`))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.S3[0].SecretKey)
	require.Len(t, cfg.WebDAV, 2)
	assert.Equal(t, "pa$sw0rd", cfg.WebDAV[0].Password)
	assert.Equal(t, "$HOME-$", cfg.WebDAV[1].Password)
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("SCB_TEST_VAR", "v")
	assert.Equal(t, "a-v-b", expandEnv("a-${SCB_TEST_VAR}-b"))
	assert.Equal(t, "$SCB_TEST_VAR", expandEnv("$SCB_TEST_VAR"))
	assert.Equal(t, "x", expandEnv("x${SCB_TEST_UNSET_VAR}"))
	assert.Equal(t, "${1BAD}", expandEnv("${1BAD}"))
}

func TestLoad_MissingFileUsesEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("S3_ENDPOINT", "http://localhost:9000")
	t.Setenv("S3_BUCKET", "b")
	t.Setenv("S3_ACCESS_KEY", "ak")
	t.Setenv("S3_SECRET_KEY", "sk")
	t.Setenv("WEBDAV_ENDPOINT", "http://dav")
	t.Setenv("BACKUP_COMPRESSION", "none")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Path)
	assert.Equal(t, compression.TypeNone, cfg.CompressionType())
	assert.Equal(t, 2, cfg.Destinations())
	assert.Equal(t, DefaultRPCTimeout, cfg.RPCTimeout)
}

func TestLoad_ConfigPathFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_S3_SECRET", "x")
	path := writeFile(t, sample)
	t.Setenv("BACKUP_CONFIG_PATH", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_S3_SECRET", "x")
	t.Setenv("BACKUP_COMPRESSION", "lz4")
	t.Setenv("RETRY_MAX_ATTEMPTS", "2")
	t.Setenv("RETRY_JITTER", "off")
	path := writeFile(t, sample)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, compression.TypeLZ4, cfg.CompressionType())

	ro := cfg.RetryOptions()
	assert.Equal(t, 2, ro.MaxAttempts)
	assert.False(t, ro.Jitter)
	assert.Equal(t, retry.Default.InitialDelay, ro.InitialDelay)
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "s3: [unterminated")
	_, err := Load(path)
	assert.ErrorContains(t, err, "parse yaml")
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	cfg := Config{
		Compression: "brotli",
		S3:          []S3Config{{Bucket: "b"}},
		WebDAV:      []WebDAVConfig{{}},
		Azure:       []AzureConfig{{Account: "acct"}},
		GCS:         []GCSConfig{{}},
		Local:       []LocalConfig{{}},
	}
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		"unsupported compression",
		"s3[0]: endpoint and bucket are required",
		"s3[0]: access_key and secret_key are required",
		"webdav[0]: endpoint is required",
		"azure[0]: account and container are required",
		"gcs[0]: bucket is required",
		"local[0]: dir is required",
	} {
		assert.ErrorContains(t, err, want)
	}
}

func TestValidate_EmptyIsValid(t *testing.T) {
	// An empty destination set is rejected when destinations are built, not here.
	cfg := Config{}
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 0, cfg.Destinations())
	assert.Equal(t, compression.Default, cfg.CompressionType())
}
