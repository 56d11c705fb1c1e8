package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"metaslim/config"
)

// NewS3Client builds an S3 client for the configured archive endpoint.
func NewS3Client(cfg *config.Config) (*s3.Client, error) {
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

	return s3.NewFromConfig(awsCfg), nil
}

// Archive stores ingested source files and nightly snapshots in the bucket.
type Archive struct {
	Client *s3.Client
	Config *config.Config
}

func NewArchive(client *s3.Client, cfg *config.Config) *Archive {
	return &Archive{Client: client, Config: cfg}
}

func (a *Archive) upload(ctx context.Context, key string, data []byte) (string, error) {
	_, err := a.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &a.Config.ArchiveS3Bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", a.Config.ArchiveS3URL, a.Config.ArchiveS3Bucket, key), nil
}

// ArchivePDF keeps the original upload next to its ingest log.
func (a *Archive) ArchivePDF(ctx context.Context, fileName string, data []byte) (string, error) {
	key := fmt.Sprintf("uploads/%s/%s", time.Now().UTC().Format("2006-01-02"), fileName)
	return a.upload(ctx, key, data)
}

// UploadSnapshot writes the nightly JSON export of all studies.
func (a *Archive) UploadSnapshot(ctx context.Context, data []byte) (string, error) {
	key := fmt.Sprintf("snapshots/studies-%s.json", time.Now().UTC().Format("2006-01-02T15-04-05"))
	return a.upload(ctx, key, data)
}
