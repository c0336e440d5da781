package storage

import (
	"bytes"
	"context"
	"fmt"

	"tender-factory/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Archive legt Roh-Anhänge von Ausschreibungen in einem S3-kompatiblen
// Bucket ab, damit sie für Audit und spätere Extraktion erhalten bleiben.
type Archive struct {
	client  *s3.Client
	bucket  string
	baseURL string
}

// NewArchive erstellt einen S3-Client für das Anhang-Archiv.
func NewArchive(cfg *config.Config) (*Archive, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.ArchiveS3URL,
				SigningRegion:     cfg.ArchiveS3Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.ArchiveS3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.ArchiveS3Key, cfg.ArchiveS3Secret, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}

	return &Archive{
		client:  s3.NewFromConfig(awsCfg),
		bucket:  cfg.ArchiveS3Bucket,
		baseURL: cfg.ArchiveS3URL,
	}, nil
}

// Upload lädt einen Anhang ins Archiv hoch und gibt den Link zurück.
func (a *Archive) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket: &a.bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = &contentType
	}
	if _, err := a.client.PutObject(ctx, input); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", a.baseURL, a.bucket, key), nil
}
