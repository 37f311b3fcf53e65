package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	_ "golang.org/x/image/webp"
	"golang.org/x/time/rate"

	"github.com/your-org/chirp/internal/config"
)

var (
	ErrImageTooLarge = errors.New("image too large")
	ErrNotAnImage    = errors.New("unsupported image format")
)

// Downloaded is a fetched image with its decoded header.
type Downloaded struct {
	Data        []byte
	ContentType string
	Format      string
	Width       int
	Height      int
}

// Downloader fetches images through the URL guard, throttled process-wide.
type Downloader struct {
	guard     *URLGuard
	client    *http.Client
	limiter   *rate.Limiter
	maxBytes  int64
	maxPixels int
	userAgent string
}

func NewDownloader(guard *URLGuard, client *http.Client, cfg config.ScrapeConfig) *Downloader {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.DownloadRate > 0 {
		burst := int(cfg.DownloadRate)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.DownloadRate), burst)
	}
	return &Downloader{
		guard:     guard,
		client:    client,
		limiter:   limiter,
		maxBytes:  cfg.MaxImageBytes,
		maxPixels: cfg.MaxPixels,
		userAgent: cfg.UserAgent,
	}
}

func (d *Downloader) Download(ctx context.Context, rawURL string) (*Downloaded, error) {
	safe, err := d.guard.Validate(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for download slot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, safe, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image: unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > d.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrImageTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > d.maxBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrImageTooLarge, d.maxBytes)
	}

	w, h, format, err := DecodeDimensions(data)
	if err != nil {
		return nil, err
	}
	if w*h > d.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageTooLarge, w, h, d.maxPixels)
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "image/") {
		ct = "image/" + format
	}
	return &Downloaded{Data: data, ContentType: ct, Format: format, Width: w, Height: h}, nil
}

// DecodeDimensions reads only the image header.
func DecodeDimensions(data []byte) (width, height int, format string, err error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, "", fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}
	return cfg.Width, cfg.Height, format, nil
}

// FilenameFromURL derives a display filename from the last path segment.
func FilenameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "image"
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" {
		return "image"
	}
	return name
}
