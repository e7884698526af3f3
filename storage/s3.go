package storage

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"patent-sync/config"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// NewS3Client erstellt einen S3-Client für das Seitenarchiv (beliebiger S3-kompatibler Endpunkt).
func NewS3Client(cfg *config.Config) (*s3.Client, error) {
	resolver := aws.EndpointResolverWithOptionsFunc(
		func(service, region string, options ...interface{}) (aws.Endpoint, error) {
			return aws.Endpoint{
				URL:               cfg.SnapshotS3URL,
				SigningRegion:     cfg.SnapshotS3Region,
				HostnameImmutable: true,
			}, nil
		},
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(context.TODO(),
		awsconfig.WithRegion(cfg.SnapshotS3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.SnapshotS3Key, cfg.SnapshotS3Secret, "")),
		awsconfig.WithEndpointResolverWithOptions(resolver),
	)
	if err != nil {
		return nil, err
	}

	return s3.NewFromConfig(awsCfg), nil
}

// S3Snapshots legt die rohen Scholar-Listenseiten in einem Bucket ab.
type S3Snapshots struct {
	Client  *s3.Client
	Bucket  string
	BaseURL string
	// Keep ist die Anzahl Seiten, die pro Präfix behalten werden; 0 behält alle.
	Keep int
}

// NewS3Snapshots erstellt das Archiv aus der Konfiguration.
func NewS3Snapshots(cfg *config.Config) (*S3Snapshots, error) {
	client, err := NewS3Client(cfg)
	if err != nil {
		return nil, err
	}
	return &S3Snapshots{
		Client:  client,
		Bucket:  cfg.SnapshotS3Bucket,
		BaseURL: cfg.SnapshotS3URL,
		Keep:    cfg.SnapshotKeep,
	}, nil
}

// PutSnapshot lädt eine Seite hoch und gibt den Link zurück.
func (s *S3Snapshots) PutSnapshot(ctx context.Context, key string, body []byte) (string, error) {
	_, err := s.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("text/html; charset=utf-8"),
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%s", s.BaseURL, s.Bucket, key), nil
}

// Rotate löscht unter prefix alle bis auf die Keep neuesten Seiten.
func (s *S3Snapshots) Rotate(ctx context.Context, prefix string) (int, error) {
	if s.Keep <= 0 {
		return 0, nil
	}
	output, err := s.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.Bucket),
		Prefix: aws.String(prefix),
	})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, obj := range staleSnapshots(output.Contents, s.Keep) {
		_, err := s.Client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.Bucket),
			Key:    obj.Key,
		})
		if err != nil {
			return deleted, fmt.Errorf("delete %s: %w", aws.ToString(obj.Key), err)
		}
		deleted++
	}
	return deleted, nil
}

// staleSnapshots gibt alle Objekte außer den keep neuesten zurück. Die Eingabe bleibt unverändert.
func staleSnapshots(objects []types.Object, keep int) []types.Object {
	if keep <= 0 || len(objects) <= keep {
		return nil
	}
	sorted := make([]types.Object, len(objects))
	copy(sorted, objects)
	sort.SliceStable(sorted, func(i, j int) bool {
		return aws.ToTime(sorted[i].LastModified).After(aws.ToTime(sorted[j].LastModified))
	})
	return sorted[keep:]
}
