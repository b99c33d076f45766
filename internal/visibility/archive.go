package visibility

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

	"github.com/split-labs/split/internal/config"
)

// Archiver stores page screenshots returned by the crawl API: the full
// capture plus a dashboard thumbnail, uploaded to S3 when a bucket is
// configured, local disk otherwise.
type Archiver struct {
	httpClient *http.Client
	uploader   uploader
	maxBytes   int64
	thumbWidth int
}

type uploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// NewArchiver constructs the archiver and chooses an upload destination.
func NewArchiver(ctx context.Context, cfg config.Config) (*Archiver, error) {
	var up uploader
	if cfg.ScreenshotS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		up = &s3Uploader{client: client, bucket: cfg.ScreenshotS3Bucket}
	} else {
		up = &localUploader{baseDir: cfg.ScreenshotDir}
	}

	maxBytes := cfg.ScreenshotMaxBytes
	if maxBytes == 0 {
		maxBytes = 25 * 1024 * 1024
	}
	thumbWidth := cfg.ThumbnailWidth
	if thumbWidth == 0 {
		thumbWidth = 320
	}

	return &Archiver{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		uploader:   up,
		maxBytes:   maxBytes,
		thumbWidth: thumbWidth,
	}, nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.ScreenshotS3Region),
	}
	if cfg.ScreenshotS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.ScreenshotS3Endpoint,
					HostnameImmutable: cfg.ScreenshotS3PathStyle,
					SigningRegion:     cfg.ScreenshotS3Region,
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
		o.UsePathStyle = cfg.ScreenshotS3PathStyle
	}), nil
}

// Archive downloads the screenshot, writes the full capture and a thumbnail
// under snapshots/{snapshotID}/, and returns the thumbnail key.
func (a *Archiver) Archive(ctx context.Context, snapshotID string, urlIndex int, screenshotURL string) (string, error) {
	data, contentType, err := a.download(ctx, screenshotURL)
	if err != nil {
		return "", err
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode screenshot: %w", err)
	}

	ext := "jpg"
	outFormat := imaging.JPEG
	if format == "png" || strings.Contains(strings.ToLower(contentType), "png") {
		ext = "png"
		outFormat = imaging.PNG
	}

	fullKey := fmt.Sprintf("snapshots/%s/%d.%s", snapshotID, urlIndex, ext)
	if _, err := a.uploader.Upload(ctx, fullKey, data, contentType); err != nil {
		return "", fmt.Errorf("upload screenshot: %w", err)
	}

	thumb := imaging.Resize(img, a.thumbWidth, 0, imaging.Lanczos)
	buf := &bytes.Buffer{}
	if err := imaging.Encode(buf, thumb, outFormat, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("encode thumbnail: %w", err)
	}

	thumbKey := fmt.Sprintf("snapshots/%s/%d_thumb.%s", snapshotID, urlIndex, ext)
	if _, err := a.uploader.Upload(ctx, thumbKey, buf.Bytes(), mimeForExt(ext)); err != nil {
		return "", fmt.Errorf("upload thumbnail: %w", err)
	}

	return thumbKey, nil
}

func (a *Archiver) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download screenshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("download screenshot: status %d", resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, a.maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, "", fmt.Errorf("read screenshot: %w", err)
	}
	if int64(len(body)) > a.maxBytes {
		return nil, "", fmt.Errorf("screenshot too large (>%d bytes)", a.maxBytes)
	}

	return body, resp.Header.Get("Content-Type"), nil
}

func mimeForExt(ext string) string {
	if ext == "png" {
		return "image/png"
	}
	return "image/jpeg"
}

type localUploader struct {
	baseDir string
}

func (l *localUploader) Upload(_ context.Context, key string, body []byte, _ string) (string, error) {
	path := filepath.Join(l.baseDir, filepath.Clean(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create dirs: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return path, nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
