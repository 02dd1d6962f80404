package worker

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/disintegration/imaging"

	"confianza-backend/internal/config"
	"confianza-backend/internal/models"
)

type uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) error
}

// PhotoHandler downloads an evidence photo, renders a thumbnail, and uploads
// both to object storage (S3) or a local directory in dev.
type PhotoHandler struct {
	cfg        config.Config
	httpClient *http.Client
	uploads    uploader
}

// NewPhotoHandler constructs the handler, choosing S3 when a bucket is
// configured and the local directory otherwise.
func NewPhotoHandler(ctx context.Context, cfg config.Config) (*PhotoHandler, error) {
	timeout := cfg.EvidenceDownloadTime
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	var up uploader
	if cfg.EvidenceS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		up = &s3Uploader{client: client, bucket: cfg.EvidenceS3Bucket}
	} else {
		baseDir := cfg.EvidenceOutputDir
		if baseDir == "" {
			baseDir = "./evidence"
		}
		up = &localUploader{baseDir: baseDir}
	}

	return &PhotoHandler{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
		uploads:    up,
	}, nil
}

// Handle processes a single evidence photo and returns the stored keys.
func (h *PhotoHandler) Handle(ctx context.Context, ev models.Evidence) (string, string, error) {
	data, contentType, err := h.download(ctx, ev.SourceURL)
	if err != nil {
		return "", "", err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", "", fmt.Errorf("decode image: %w", err)
	}

	width := h.cfg.EvidenceThumbWidth
	if width == 0 {
		width = 320
	}
	thumb := imaging.Resize(img, width, 0, imaging.Lanczos)

	ext := extensionForFormat(format)
	storedKey := fmt.Sprintf("evidence/%s/%s.%s", ev.RequestID, ev.ID, ext)
	thumbKey := fmt.Sprintf("evidence/%s/%s_thumb.jpg", ev.RequestID, ev.ID)

	if err := h.uploads.Upload(ctx, storedKey, data, contentType); err != nil {
		return "", "", fmt.Errorf("upload original: %w", err)
	}

	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return "", "", fmt.Errorf("encode thumbnail: %w", err)
	}
	if err := h.uploads.Upload(ctx, thumbKey, buf.Bytes(), "image/jpeg"); err != nil {
		return "", "", fmt.Errorf("upload thumbnail: %w", err)
	}

	return storedKey, thumbKey, nil
}

func (h *PhotoHandler) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download photo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("download photo: status %d", resp.StatusCode)
	}

	limit := h.cfg.EvidenceMaxBytes
	if limit == 0 {
		limit = 10 * 1024 * 1024
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", fmt.Errorf("read photo: %w", err)
	}
	if int64(len(body)) > limit {
		return nil, "", fmt.Errorf("photo too large (>%d bytes)", limit)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return body, contentType, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.EvidenceS3Region),
	}
	if cfg.EvidenceS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.EvidenceS3Endpoint,
					HostnameImmutable: cfg.EvidenceS3PathStyle,
					SigningRegion:     cfg.EvidenceS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.EvidenceS3PathStyle
	}), nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (u *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) error {
	_, err := u.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(u.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("put object %s: %w", key, err)
	}
	return nil
}

type localUploader struct {
	baseDir string
}

func (u *localUploader) Upload(_ context.Context, key string, body []byte, _ string) error {
	path := filepath.Join(u.baseDir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func extensionForFormat(format string) string {
	switch strings.ToLower(format) {
	case "png":
		return "png"
	case "gif":
		return "gif"
	default:
		return "jpg"
	}
}
