// Package s3 publishes run artifacts to AWS S3 or any S3-compatible endpoint.
package s3

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/aws/smithy-go"

	"github.com/sgl-project/sft-agent/pkg/afero"
	"github.com/sgl-project/sft-agent/pkg/logging"
	"github.com/sgl-project/sft-agent/pkg/storage"
)

const (
	defaultConcurrency     = 5
	defaultPartSize        = 16 * 1024 * 1024
	defaultRoleSessionName = "sft-agent-upload"
)

type uploadAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Storage implements storage.Uploader with the s3 transfer manager.
type S3Storage struct {
	uploader uploadAPI
	bucket   string
	fs       afero.Fs
	logger   logging.Interface
}

var _ storage.Uploader = (*S3Storage)(nil)

// New creates an S3Storage from cfg. Without static keys, credentials come
// from the default AWS chain.
func New(ctx context.Context, cfg storage.Config, fs afero.Fs, logger logging.Interface) (*S3Storage, error) {
	if cfg.Bucket == "" {
		return nil, storage.NewError("new", "", string(storage.ProviderS3), fmt.Errorf("%w: bucket is required", storage.ErrInvalidConfig))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	if cfg.RoleARN != "" {
		awsCfg.Credentials = aws.NewCredentialsCache(assumeRoleProvider(awsCfg, cfg))
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	partSize := cfg.PartSize
	if partSize < manager.MinUploadPartSize {
		partSize = defaultPartSize
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	uploader := manager.NewUploader(client, func(u *manager.Uploader) {
		u.PartSize = partSize
		u.Concurrency = concurrency
		u.LeavePartsOnError = false
	})

	return newWithUploader(uploader, cfg.Bucket, fs, logger), nil
}

func loadOptions(cfg storage.Config) []func(*awsconfig.LoadOptions) error {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if provider := staticProvider(cfg); provider != nil {
		opts = append(opts, awsconfig.WithCredentialsProvider(provider))
	}
	return opts
}

// staticProvider returns nil unless both halves of the key pair are set.
func staticProvider(cfg storage.Config) aws.CredentialsProvider {
	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
		return nil
	}
	return credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken)
}

func assumeRoleProvider(awsCfg aws.Config, cfg storage.Config) *stscreds.AssumeRoleProvider {
	sessionName := cfg.RoleSessionName
	if sessionName == "" {
		sessionName = defaultRoleSessionName
	}
	return stscreds.NewAssumeRoleProvider(sts.NewFromConfig(awsCfg), cfg.RoleARN, func(o *stscreds.AssumeRoleOptions) {
		o.RoleSessionName = sessionName
	})
}

func newWithUploader(u uploadAPI, bucket string, fs afero.Fs, logger logging.Interface) *S3Storage {
	return &S3Storage{
		uploader: u,
		bucket:   bucket,
		fs:       fs,
		logger:   logger,
	}
}

func (s *S3Storage) Provider() storage.Provider {
	return storage.ProviderS3
}

// Upload streams the local file at source to s3://<bucket>/<target>.
func (s *S3Storage) Upload(ctx context.Context, source string, target string) (*storage.ObjectInfo, error) {
	info, err := s.fs.Stat(source)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.NewError("upload", source, string(storage.ProviderS3), storage.ErrNotFound)
		}
		return nil, storage.NewError("upload", source, string(storage.ProviderS3), err)
	}

	f, err := s.fs.Open(source)
	if err != nil {
		return nil, storage.NewError("upload", source, string(storage.ProviderS3), err)
	}
	defer f.Close()

	s.logger.WithField("bucket", s.bucket).
		WithField("key", target).
		WithField("size", info.Size()).
		Info("Uploading artifact")

	out, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(target),
		Body:   f,
	})
	if err != nil {
		return nil, storage.NewError("upload", target, string(storage.ProviderS3), classify(err))
	}

	return &storage.ObjectInfo{
		Bucket:   s.bucket,
		Key:      target,
		Location: out.Location,
		Size:     info.Size(),
	}, nil
}

// classify maps S3 API error codes onto storage sentinels, keeping the
// original error in the chain.
func classify(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	switch apiErr.ErrorCode() {
	case "NoSuchBucket":
		return fmt.Errorf("%w: %w", storage.ErrBucketNotFound, err)
	case "AccessDenied", "Forbidden":
		return fmt.Errorf("%w: %w", storage.ErrAccessDenied, err)
	case "NoSuchKey", "NotFound":
		return fmt.Errorf("%w: %w", storage.ErrNotFound, err)
	default:
		return fmt.Errorf("%s: %w", apiErr.ErrorCode(), err)
	}
}
