package transcript

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Archiver uploads finished transcripts to an S3 bucket.
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	archiver := transcript.NewS3Archiver(s3.NewFromConfig(cfg), "my-bucket", "transcripts/")
type S3Archiver struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Archiver builds an archiver writing under prefix in bucket.
func NewS3Archiver(client *s3.Client, bucket, prefix string) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: prefix,
	}
}

// Upload puts one transcript object. The key is prefixed with the
// archiver's configured prefix.
func (a *S3Archiver) Upload(ctx context.Context, key string, body io.Reader, meta map[string]string) error {
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(a.prefix + key),
		Body:        body,
		ContentType: aws.String("application/x-ndjson"),
		Metadata:    meta,
	})
	if err != nil {
		return fmt.Errorf("transcript: archive %s: %w", key, err)
	}
	return nil
}
