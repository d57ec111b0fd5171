// Package storage - загрузка подтверждений офферов в S3-совместимое хранилище (S3, R2, MinIO)
package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	appconfig "reward_platform/internal/config"
	"reward_platform/internal/domain"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

const maxProofSize = 5 << 20

var allowedTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
}

// ObjectPutter - часть s3.Client, которой достаточно для загрузки
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3 struct {
	client    ObjectPutter
	bucket    string
	publicURL string
	now       func() time.Time
}

// NewS3 собирает клиента из настроек. Для R2/MinIO задается endpoint и path-style адресация
func NewS3(ctx context.Context, cfg appconfig.S3Config) (*S3, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.AccessKey, cfg.SecretKey, "",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	publicURL := cfg.PublicURL
	if publicURL == "" {
		base := cfg.Endpoint
		if base == "" {
			base = fmt.Sprintf("https://s3.%s.amazonaws.com", cfg.Region)
		}
		publicURL = strings.TrimRight(base, "/") + "/" + cfg.Bucket
	}
	return NewS3WithClient(client, cfg.Bucket, publicURL), nil
}

func NewS3WithClient(client ObjectPutter, bucket, publicURL string) *S3 {
	return &S3{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
		now:       time.Now,
	}
}

// PutProof загружает скриншот и возвращает его публичный URL.
// Ключ: proofs/<offer>/<user>/<yyyy-mm-dd>/<uuid>.<ext>
func (s *S3) PutProof(ctx context.Context, userID, offerID int64, body []byte, contentType string) (string, error) {
	if len(body) == 0 {
		return "", domain.Validation("empty proof")
	}
	if len(body) > maxProofSize {
		return "", domain.Validation("proof is larger than %d bytes", maxProofSize)
	}
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	ext, ok := allowedTypes[contentType]
	if !ok {
		return "", domain.Validation("unsupported proof content type %q", contentType)
	}

	key := fmt.Sprintf("proofs/%d/%d/%s/%s%s",
		offerID, userID, s.now().UTC().Format("2006-01-02"), uuid.NewString(), ext)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload proof: %w", err)
	}
	return s.publicURL + "/" + key, nil
}
