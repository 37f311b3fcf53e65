package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/chirp/internal/config"
	"github.com/your-org/chirp/internal/models"
)

type staticResolver map[string][]netip.Addr

func (r staticResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	addrs, ok := r[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	return addrs, nil
}

func loopbackGuard() *URLGuard {
	return NewURLGuard(WithAllowedPrefixes(
		netip.MustParsePrefix("127.0.0.0/8"),
		netip.MustParsePrefix("::1/128"),
	))
}

func TestURLGuard_Validate(t *testing.T) {
	g := NewURLGuard(WithResolver(staticResolver{
		"public.example":   {netip.MustParseAddr("93.184.216.34")},
		"internal.example": {netip.MustParseAddr("93.184.216.34"), netip.MustParseAddr("10.1.2.3")},
	}))

	ok := []string{
		"https://public.example/gallery",
		"http://93.184.216.34/a.jpg",
	}
	for _, u := range ok {
		_, err := g.Validate(context.Background(), u)
		assert.NoError(t, err, u)
	}

	blocked := []string{
		"ftp://public.example/file",
		"file:///etc/passwd",
		"http:///nohost",
		"http://127.0.0.1/",
		"http://[::1]/",
		"http://169.254.169.254/latest/meta-data",
		"http://192.168.1.10/",
		"http://0.0.0.0/",
		"http://[::ffff:10.0.0.1]/",
		"http://internal.example/",
		"http://unknown.example/",
	}
	for _, u := range blocked {
		_, err := g.Validate(context.Background(), u)
		require.Error(t, err, u)
		assert.True(t, models.IsValidation(err), u)
	}
}

func TestURLGuard_AllowedPrefix(t *testing.T) {
	g := loopbackGuard()
	assert.False(t, g.Blocked(netip.MustParseAddr("127.0.0.1")))
	assert.True(t, g.Blocked(netip.MustParseAddr("10.0.0.1")))
}

func TestScraper_ScrapeImages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body>
			<img src="/a.jpg" alt="a">
			<img src="b.png">
			<img src="/a.jpg">
			<img src="">
			<img src="data:image/png;base64,AAAA">
			<img src="https://cdn.example/c.webp#frag">
			<img alt="no src">
		</body></html>`)
	}))
	defer srv.Close()

	g := loopbackGuard()
	s := NewScraper(g, g.HTTPClient(5*time.Second), "test")

	urls, err := s.ScrapeImages(context.Background(), srv.URL+"/page/index.html")
	require.NoError(t, err)
	assert.Equal(t, []string{
		srv.URL + "/a.jpg",
		srv.URL + "/page/b.png",
		"https://cdn.example/c.webp",
	}, urls)
}

func TestScraper_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	g := loopbackGuard()
	_, err := NewScraper(g, g.HTTPClient(time.Second), "test").ScrapeImages(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestGuardedClient_BlocksPrivateDial(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	client := NewURLGuard().HTTPClient(time.Second)
	_, err := client.Get(srv.URL)
	require.Error(t, err)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testScrapeConfig() config.ScrapeConfig {
	return config.ScrapeConfig{MaxImageBytes: 1 << 20, MaxPixels: 10_000, UserAgent: "test"}
}

func TestDownloader_Download(t *testing.T) {
	body := pngBytes(t, 40, 30)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(body)
		case "/huge.png":
			_, _ = w.Write(pngBytes(t, 200, 200))
		case "/text":
			fmt.Fprint(w, "hello")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	g := loopbackGuard()
	d := NewDownloader(g, g.HTTPClient(5*time.Second), testScrapeConfig())

	got, err := d.Download(context.Background(), srv.URL+"/ok.png")
	require.NoError(t, err)
	assert.Equal(t, 40, got.Width)
	assert.Equal(t, 30, got.Height)
	assert.Equal(t, "png", got.Format)
	assert.Equal(t, "image/png", got.ContentType)
	assert.Equal(t, body, got.Data)

	_, err = d.Download(context.Background(), srv.URL+"/huge.png")
	assert.ErrorIs(t, err, ErrImageTooLarge)

	_, err = d.Download(context.Background(), srv.URL+"/text")
	assert.ErrorIs(t, err, ErrNotAnImage)

	_, err = d.Download(context.Background(), srv.URL+"/missing")
	assert.Error(t, err)
}

func TestFilenameFromURL(t *testing.T) {
	assert.Equal(t, "photo.jpg", FilenameFromURL("https://x.example/a/photo.jpg?w=200"))
	assert.Equal(t, "image", FilenameFromURL("https://x.example/"))
	assert.Equal(t, "image", FilenameFromURL("https://x.example"))
}
