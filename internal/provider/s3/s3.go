package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog/log"

	"github.com/Chapsvision-dev/cln-scb-backup/internal/config"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/provider"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/retry"
	"github.com/Chapsvision-dev/cln-scb-backup/internal/util"
)

const defaultRegion = "us-east-1"

// S3Provider writes artifacts to one bucket of an S3 compatible service
// (AWS, MinIO, Ceph RGW, ...), always with path-style addressing.
type S3Provider struct {
	client   *awss3.Client
	endpoint string
	bucket   string
	root     string
	ro       retry.Options
}

// New builds the client and fails when the bucket cannot be reached.
func New(ctx context.Context, c config.S3Config, ro retry.Options) (*S3Provider, error) {
	region := strings.TrimSpace(c.Region)
	if region == "" {
		region = defaultRegion
	}
	httpClient := awshttp.NewBuildableClient()
	if c.Timeout > 0 {
		httpClient = httpClient.WithTimeout(c.Timeout)
	}
	client := awss3.New(awss3.Options{
		Region:       region,
		BaseEndpoint: aws.String(strings.TrimRight(c.Endpoint, "/")),
		UsePathStyle: true,
		Credentials:  credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, ""),
		HTTPClient:   httpClient,
		// Retries are driven by retry.Do so they show up in our logs.
		Retryer: aws.NopRetryer{},
	})

	p := &S3Provider{
		client:   client,
		endpoint: c.Endpoint,
		bucket:   c.Bucket,
		root:     provider.NormalizeRoot(c.Path),
		ro:       ro,
	}
	log.Info().
		Str("action", "s3_init").
		Str("endpoint", c.Endpoint).
		Str("bucket", c.Bucket).
		Str("root", p.root).
		Msg("using S3 bucket")

	if err := p.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *S3Provider) Name() string {
	return "s3:" + strings.TrimRight(p.endpoint, "/") + "/" + p.bucket
}

func (p *S3Provider) key(path string) string {
	return provider.JoinPath(p.root, path)
}

// ensureBucket issues HeadBucket so a typo in the bucket name is reported at
// startup rather than on the first backup.
func (p *S3Provider) ensureBucket(ctx context.Context) error {
	attempt := 0
	err := retry.Do(ctx, p.ro, isRetryable, func(ctx context.Context) error {
		attempt++
		_, err := p.client.HeadBucket(ctx, &awss3.HeadBucketInput{Bucket: aws.String(p.bucket)})
		if err != nil {
			log.Debug().Err(err).Str("action", "s3_head_bucket").Str("bucket", p.bucket).
				Int("attempt", attempt).Msg("attempt failed")
		}
		return err
	})
	if err == nil {
		return nil
	}
	var nf *types.NotFound
	if errors.As(err, &nf) || statusCode(err) == http.StatusNotFound {
		return fmt.Errorf("s3: bucket %q does not exist", p.bucket)
	}
	if sc := statusCode(err); sc == http.StatusForbidden || sc == http.StatusUnauthorized {
		return fmt.Errorf("s3: access to bucket %q denied: %w", p.bucket, err)
	}
	return fmt.Errorf("s3: check bucket %q: %w", p.bucket, err)
}

// Put uploads data under root/path with a sha256 metadata entry.
func (p *S3Provider) Put(ctx context.Context, path string, data []byte) error {
	key := p.key(path)
	sum := util.SHA256Hex(data)

	start := time.Now()
	attempt := 0
	putOnce := func(ctx context.Context) error {
		attempt++
		log.Debug().Str("action", "s3_put").Str("bucket", p.bucket).Str("key", key).
			Int("attempt", attempt).Msg("starting attempt")

		_, err := p.client.PutObject(ctx, &awss3.PutObjectInput{
			Bucket:      aws.String(p.bucket),
			Key:         aws.String(key),
			Body:        bytes.NewReader(data),
			ContentType: aws.String("application/octet-stream"),
			Metadata:    map[string]string{"sha256": sum},
		})
		if err != nil {
			log.Debug().Err(err).Str("action", "s3_put").Str("bucket", p.bucket).Str("key", key).
				Int("attempt", attempt).Msg("attempt failed")
			return err
		}
		return nil
	}
	if err := retry.DoNotify(ctx, p.ro, isRetryable, retry.LogBackoff("s3_put", p.bucket+"/"+key), putOnce); err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	log.Info().Str("action", "s3_put").Str("bucket", p.bucket).Str("key", key).
		Int("attempts", attempt).Dur("elapsed_ms", time.Since(start)).Msg("upload OK")
	return nil
}

func statusCode(err error) int {
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

// isRetryable: timeouts, 5xx, 429, 408 and the S3 throttling codes.
func isRetryable(err error) bool {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	switch sc := statusCode(err); {
	case sc == http.StatusTooManyRequests, sc == http.StatusRequestTimeout:
		return true
	case sc >= 500 && sc <= 599:
		return true
	}
	var ae smithy.APIError
	if errors.As(err, &ae) {
		switch ae.ErrorCode() {
		case "SlowDown", "RequestTimeout", "Throttling", "ThrottlingException", "InternalError", "ServiceUnavailable":
			return true
		}
	}
	return false
}
