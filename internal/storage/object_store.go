package storage

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

var ErrUnmanagedURL = errors.New("url does not belong to the bucket")

type Config struct {
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	PublicBaseURL   string
	StorageClass    string
}

// s3API is the subset of *s3.Client the store calls.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// ObjectStore keeps delivery proof photos and archived pickup receipts in an
// S3-compatible bucket. Photos are public, receipts are not cached.
type ObjectStore struct {
	bucket       string
	publicBase   string
	storageClass types.StorageClass
	api          s3API
}

func NewObjectStore(ctx context.Context, cfg Config) (*ObjectStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	if !strings.Contains(endpoint, "://") {
		endpoint = "https://" + endpoint
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "auto"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(
		ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			strings.TrimSpace(cfg.AccessKeyID),
			strings.TrimSpace(cfg.SecretAccessKey),
			"",
		)),
	)
	if err != nil {
		return nil, fmt.Errorf("load s3 config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
		o.UsePathStyle = true
	})
	return newObjectStore(client, cfg)
}

func newObjectStore(api s3API, cfg Config) (*ObjectStore, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}
	publicBase := strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")
	if publicBase == "" {
		return nil, fmt.Errorf("object store public base url is required")
	}
	return &ObjectStore{
		bucket:       bucket,
		publicBase:   publicBase,
		storageClass: types.StorageClass(strings.ToUpper(strings.TrimSpace(cfg.StorageClass))),
		api:          api,
	}, nil
}

// ProofPhotoKey names a proof photo by delivery and content, so a retried
// upload of the same bytes lands on the same object.
func ProofPhotoKey(deliveryID string, jpeg []byte) string {
	return fmt.Sprintf("deliveries/%s/proof-%s.jpg", deliveryID, contentDigest(jpeg))
}

func ReceiptKey(orderID string) string {
	return fmt.Sprintf("receipts/%s.pdf", orderID)
}

func (s *ObjectStore) PutProofPhoto(ctx context.Context, deliveryID string, jpeg []byte) (string, error) {
	return s.put(ctx, ProofPhotoKey(deliveryID, jpeg), jpeg, "image/jpeg", "public, max-age=31536000, immutable", map[string]string{
		"delivery-id": deliveryID,
	})
}

// PutReceipt overwrites the archived receipt for an order.
func (s *ObjectStore) PutReceipt(ctx context.Context, orderID string, pdf []byte) (string, error) {
	return s.put(ctx, ReceiptKey(orderID), pdf, "application/pdf", "private, no-cache", map[string]string{
		"order-id": orderID,
		"sha256":   contentDigest(pdf),
	})
}

func (s *ObjectStore) put(ctx context.Context, key string, body []byte, contentType, cacheControl string, meta map[string]string) (string, error) {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String(contentType),
		CacheControl:  aws.String(cacheControl),
		Metadata:      meta,
	}
	if s.storageClass != "" {
		input.StorageClass = s.storageClass
	}
	if _, err := s.api.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return s.PublicURL(key), nil
}

func (s *ObjectStore) PublicURL(key string) string {
	return s.publicBase + "/" + strings.TrimLeft(key, "/")
}

// KeyFromURL accepts either a public URL or a path-style bucket URL.
func (s *ObjectStore) KeyFromURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if strings.HasPrefix(raw, s.publicBase+"/") {
		key := strings.TrimLeft(raw[len(s.publicBase):], "/")
		return key, key != ""
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	bucket, key, ok := strings.Cut(strings.TrimLeft(parsed.Path, "/"), "/")
	if !ok || bucket != s.bucket || key == "" {
		return "", false
	}
	return key, true
}

func (s *ObjectStore) DeleteURL(ctx context.Context, raw string) error {
	key, ok := s.KeyFromURL(raw)
	if !ok {
		return ErrUnmanagedURL
	}
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	return err
}

func contentDigest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:12])
}
