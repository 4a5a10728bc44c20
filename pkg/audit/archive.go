package audit

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3ArchiveOptions configures the pre-deletion archive target.
type S3ArchiveOptions struct {
	Endpoint     string
	Region       string
	Bucket       string
	Prefix       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// s3PutObjectAPI is the subset of the S3 client the archiver uses.
type s3PutObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver writes expiring records to object storage as gzipped NDJSON
// before the retention engine deletes them. An upload failure aborts the
// deletion so no record is lost unarchived.
type S3Archiver struct {
	client s3PutObjectAPI
	bucket string
	prefix string
}

// NewS3Archiver builds an archiver against S3 or any S3-compatible endpoint
// such as MinIO.
func NewS3Archiver(ctx context.Context, opts S3ArchiveOptions) (*S3Archiver, error) {
	var awsCfg aws.Config
	var err error

	if opts.AccessKey != "" && opts.SecretKey != "" {
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(opts.Region),
			awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				opts.AccessKey,
				opts.SecretKey,
				"",
			)),
		)
	} else {
		// Default credential chain: IAM roles, env vars, shared config.
		awsCfg, err = awsconfig.LoadDefaultConfig(ctx,
			awsconfig.WithRegion(opts.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
		if opts.UsePathStyle {
			o.UsePathStyle = true
		}
	})

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "audit-archive"
	}

	return &S3Archiver{client: client, bucket: opts.Bucket, prefix: prefix}, nil
}

// Archive uploads the batch as one gzipped NDJSON object keyed by the
// cutoff date.
func (a *S3Archiver) Archive(ctx context.Context, records []*AuditRecord, cutoff time.Time) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	encoder := json.NewEncoder(gz)
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			gz.Close()
			return fmt.Errorf("failed to encode record %d: %w", record.ID, err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to finish gzip stream: %w", err)
	}

	key := fmt.Sprintf("%s/expired-before-%s.ndjson.gz", a.prefix, cutoff.UTC().Format("2006-01-02T15-04-05Z"))
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(a.bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/x-ndjson"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("failed to upload archive %s: %w", key, err)
	}
	return nil
}
