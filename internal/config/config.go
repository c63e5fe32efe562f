package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Chapsvision-dev/cln-scb-backup/internal/compression"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/retry"
)

// DefaultPath is the config file looked up when nothing else is given.
const DefaultPath = "backup.yaml"

// DefaultRPCTimeout bounds a single staticbackup call.
const DefaultRPCTimeout = 30 * time.Second

// DefaultUploadTimeout bounds a single HTTP request to a destination.
const DefaultUploadTimeout = 2 * time.Minute

type Config struct {
	// Path is the file the config was read from ("" if none existed).
	Path string `yaml:"-"`

	Compression string        `yaml:"compression"`
	RPCFile     string        `yaml:"rpc_file"`
	RPCTimeout  time.Duration `yaml:"rpc_timeout"`

	S3     []S3Config     `yaml:"s3"`
	WebDAV []WebDAVConfig `yaml:"webdav"`
	Azure  []AzureConfig  `yaml:"azure"`
	GCS    []GCSConfig    `yaml:"gcs"`
	Local  []LocalConfig  `yaml:"local"`

	RetryMaxAttempts  int           `yaml:"retry_max_attempts"`
	RetryInitialDelay time.Duration `yaml:"retry_initial_delay"`
	RetryMaxDelay     time.Duration `yaml:"retry_max_delay"`
	RetryMultiplier   float64       `yaml:"retry_multiplier"`
	RetryEnableJitter *bool         `yaml:"retry_jitter"`
}

type S3Config struct {
	Endpoint  string        `yaml:"endpoint"`
	Bucket    string        `yaml:"bucket"`
	Path      string        `yaml:"path"`
	Region    string        `yaml:"region"`
	AccessKey string        `yaml:"access_key"`
	SecretKey string        `yaml:"secret_key"`
	Timeout   time.Duration `yaml:"timeout"`
}

type WebDAVConfig struct {
	Endpoint string        `yaml:"endpoint"`
	User     string        `yaml:"user"`
	Password string        `yaml:"password"`
	Path     string        `yaml:"path"`
	Timeout  time.Duration `yaml:"timeout"`
}

type AzureConfig struct {
	Account   string `yaml:"account"`
	Container string `yaml:"container"`
	Path      string `yaml:"path"`
	Endpoint  string `yaml:"endpoint"`
	SASToken  string `yaml:"sas_token"`

	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	TenantID     string `yaml:"tenant_id"`
}

type GCSConfig struct {
	Bucket          string `yaml:"bucket"`
	Path            string `yaml:"path"`
	CredentialsFile string `yaml:"credentials_file"`
	Endpoint        string `yaml:"endpoint"`
}

type LocalConfig struct {
	Dir string `yaml:"dir"`
}

// Load reads the YAML file at path (BACKUP_CONFIG_PATH or DefaultPath when
// empty), overlays environment variables, applies defaults and validates.
// A missing file is not an error: destinations may come from the environment.
func Load(path string) (Config, error) {
	if strings.TrimSpace(path) == "" {
		path = get("BACKUP_CONFIG_PATH", DefaultPath)
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		cfg, err = Parse(data)
		if err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
		cfg.Path = path
	case errors.Is(err, os.ErrNotExist):
	default:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envRef matches ${NAME}. A bare $ is left alone so secrets may contain it.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${NAME} with the variable's value (empty when unset).
func expandEnv(s string) string {
	return envRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(ref[2 : len(ref)-1])
	})
}

// Parse decodes YAML after expanding ${VAR} references so secrets can stay
// in the environment.
func Parse(data []byte) (Config, error) {
	var cfg Config
	expanded := expandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return cfg, nil
}

func get(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return def
}

// applyEnv overrides scalar settings and appends destinations described by
// environment variables.
func (c *Config) applyEnv() {
	c.Compression = get("BACKUP_COMPRESSION", c.Compression)
	c.RPCFile = get("LIGHTNING_RPC_FILE", c.RPCFile)

	if v, ok := lookupDur("LIGHTNING_RPC_TIMEOUT"); ok {
		c.RPCTimeout = v
	}
	if v, ok := os.LookupEnv("RETRY_MAX_ATTEMPTS"); ok && strings.TrimSpace(v) != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.RetryMaxAttempts = n
		}
	}
	if v, ok := lookupDur("RETRY_INITIAL_DELAY"); ok {
		c.RetryInitialDelay = v
	}
	if v, ok := lookupDur("RETRY_MAX_DELAY"); ok {
		c.RetryMaxDelay = v
	}
	if v, ok := os.LookupEnv("RETRY_MULTIPLIER"); ok && strings.TrimSpace(v) != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.RetryMultiplier = f
		}
	}
	if v, ok := os.LookupEnv("RETRY_JITTER"); ok && strings.TrimSpace(v) != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "y", "on":
			b := true
			c.RetryEnableJitter = &b
		case "0", "false", "no", "n", "off":
			b := false
			c.RetryEnableJitter = &b
		}
	}

	if bucket := get("S3_BUCKET", ""); bucket != "" {
		c.S3 = append(c.S3, S3Config{
			Endpoint:  get("S3_ENDPOINT", ""),
			Bucket:    bucket,
			Path:      get("S3_PATH", ""),
			Region:    get("S3_REGION", ""),
			AccessKey: get("S3_ACCESS_KEY", ""),
			SecretKey: get("S3_SECRET_KEY", ""),
		})
	}
	if endpoint := get("WEBDAV_ENDPOINT", ""); endpoint != "" {
		c.WebDAV = append(c.WebDAV, WebDAVConfig{
			Endpoint: endpoint,
			User:     get("WEBDAV_USER", ""),
			Password: get("WEBDAV_PASSWORD", ""),
			Path:     get("WEBDAV_PATH", ""),
		})
	}
	if account := get("AZURE_STORAGE_ACCOUNT", ""); account != "" {
		c.Azure = append(c.Azure, AzureConfig{
			Account:      account,
			Container:    get("AZURE_STORAGE_CONTAINER", ""),
			Path:         get("AZURE_STORAGE_PATH", ""),
			Endpoint:     get("AZURE_BLOB_ENDPOINT", ""),
			SASToken:     get("AZURE_STORAGE_SAS", ""),
			ClientID:     get("AZURE_CLIENT_ID", ""),
			ClientSecret: get("AZURE_CLIENT_SECRET", ""),
			TenantID:     get("AZURE_TENANT_ID", ""),
		})
	}
	if bucket := get("GCS_BUCKET", ""); bucket != "" {
		c.GCS = append(c.GCS, GCSConfig{
			Bucket:          bucket,
			Path:            get("GCS_PATH", ""),
			CredentialsFile: get("GCS_CREDENTIALS_FILE", ""),
			Endpoint:        get("GCS_ENDPOINT", ""),
		})
	}
	if dir := get("BACKUP_LOCAL_DIR", ""); dir != "" {
		c.Local = append(c.Local, LocalConfig{Dir: dir})
	}
}

func lookupDur(key string) (time.Duration, bool) {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return 0, false
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, false
	}
	return d, true
}

func (c *Config) applyDefaults() {
	if c.RPCTimeout <= 0 {
		c.RPCTimeout = DefaultRPCTimeout
	}
	if c.RetryMaxAttempts == 0 {
		c.RetryMaxAttempts = retry.Default.MaxAttempts
	}
	if c.RetryInitialDelay <= 0 {
		c.RetryInitialDelay = retry.Default.InitialDelay
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = retry.Default.MaxDelay
	}
	if c.RetryMultiplier <= 0 {
		c.RetryMultiplier = retry.Default.Multiplier
	}
	if c.RetryEnableJitter == nil {
		b := retry.Default.Jitter
		c.RetryEnableJitter = &b
	}
	for i := range c.S3 {
		if c.S3[i].Timeout <= 0 {
			c.S3[i].Timeout = DefaultUploadTimeout
		}
	}
	for i := range c.WebDAV {
		if c.WebDAV[i].Timeout <= 0 {
			c.WebDAV[i].Timeout = DefaultUploadTimeout
		}
	}
}

// Validate checks field presence for every destination block and the
// compression name. Credential consistency is left to each backend's
// constructor.
func (c *Config) Validate() error {
	var errs []error
	if _, err := compression.ParseType(c.Compression); err != nil {
		errs = append(errs, err)
	}
	for i, s := range c.S3 {
		if strings.TrimSpace(s.Endpoint) == "" || strings.TrimSpace(s.Bucket) == "" {
			errs = append(errs, fmt.Errorf("s3[%d]: endpoint and bucket are required", i))
		}
		if s.AccessKey == "" || s.SecretKey == "" {
			errs = append(errs, fmt.Errorf("s3[%d]: access_key and secret_key are required", i))
		}
	}
	for i, w := range c.WebDAV {
		if strings.TrimSpace(w.Endpoint) == "" {
			errs = append(errs, fmt.Errorf("webdav[%d]: endpoint is required", i))
		}
	}
	for i, a := range c.Azure {
		if a.Account == "" || a.Container == "" {
			errs = append(errs, fmt.Errorf("azure[%d]: account and container are required", i))
		}
	}
	for i, g := range c.GCS {
		if strings.TrimSpace(g.Bucket) == "" {
			errs = append(errs, fmt.Errorf("gcs[%d]: bucket is required", i))
		}
	}
	for i, l := range c.Local {
		if strings.TrimSpace(l.Dir) == "" {
			errs = append(errs, fmt.Errorf("local[%d]: dir is required", i))
		}
	}
	return errors.Join(errs...)
}

// Destinations is the number of configured destination blocks.
func (c Config) Destinations() int {
	return len(c.S3) + len(c.WebDAV) + len(c.Azure) + len(c.GCS) + len(c.Local)
}

// CompressionType returns the validated codec selector.
func (c Config) CompressionType() compression.Type {
	t, err := compression.ParseType(c.Compression)
	if err != nil {
		return compression.Default
	}
	return t
}

// RetryOptions converts retry-related config values to retry.Options.
func (c Config) RetryOptions() retry.Options {
	jitter := retry.Default.Jitter
	if c.RetryEnableJitter != nil {
		jitter = *c.RetryEnableJitter
	}
	return retry.Options{
		MaxAttempts:  c.RetryMaxAttempts,
		InitialDelay: c.RetryInitialDelay,
		MaxDelay:     c.RetryMaxDelay,
		Multiplier:   c.RetryMultiplier,
		Jitter:       jitter,
	}
}
