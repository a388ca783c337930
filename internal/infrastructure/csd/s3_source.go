package csd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/jhoicas/facturacion-cfdi/internal/domain/cfdi"
)

// maxCSDObjectSize límite de lectura por objeto; un CSD real pesa ~2 KB.
const maxCSDObjectSize = 64 << 10

// S3Config parámetros del bucket compatible con S3 (AWS, MinIO, RustFS).
type S3Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	Prefix       string // p. ej. "csd/"
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

// S3Source lee <Prefix><RFC>.cer y <Prefix><RFC>.key de un bucket.
type S3Source struct {
	client *s3.Client
	bucket string
	prefix string
}

// NewS3Source crea el cliente S3 con credenciales estáticas.
func NewS3Source(ctx context.Context, cfg S3Config) (*S3Source, error) {
	if cfg.Bucket == "" {
		return nil, cfdi.NewConfigError("CSD_S3_BUCKET es obligatorio con CSD_SOURCE=s3")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("configuración AWS: %w", err)
	}

	endpoint := cfg.Endpoint
	if endpoint != "" && !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &S3Source{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *S3Source) Fetch(ctx context.Context, rfc string) ([]byte, []byte, error) {
	cer, err := s.get(ctx, s.prefix+rfc+".cer")
	if err != nil {
		return nil, nil, err
	}
	key, err := s.get(ctx, s.prefix+rfc+".key")
	if err != nil {
		return nil, nil, err
	}
	return cer, key, nil
}

func (s *S3Source) get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		var notFound *types.NotFound
		if errors.As(err, &noSuchKey) || errors.As(err, &notFound) {
			return nil, cfdi.NewCertificateError(cfdi.ErrCertificateNotFound, key)
		}
		return nil, fmt.Errorf("leer s3://%s/%s: %w", s.bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(io.LimitReader(out.Body, maxCSDObjectSize))
	if err != nil {
		return nil, fmt.Errorf("leer s3://%s/%s: %w", s.bucket, key, err)
	}
	return data, nil
}
