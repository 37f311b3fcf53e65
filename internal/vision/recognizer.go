package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	ort "github.com/yalue/onnxruntime_go"
	_ "golang.org/x/image/webp"

	"github.com/your-org/chirp/internal/config"
	"github.com/your-org/chirp/internal/models"
	"github.com/your-org/chirp/internal/observability"
)

const (
	detectorModel = "det_10g.onnx"
	embedderModel = "w600k_r50.onnx"
)

// Face is one detected face with its embedding.
type Face struct {
	Location   models.FaceLocation
	Embedding  []float32
	Confidence float32
}

// Recognizer detects and embeds every face in an image. ONNX sessions are
// shared, so calls are serialized.
type Recognizer struct {
	mu       sync.Mutex
	detector *Detector
	embedder *Embedder
}

// InitRuntime loads the ONNX Runtime shared library. Call DestroyRuntime on
// shutdown.
func InitRuntime() error {
	ort.SetSharedLibraryPath(sharedLibraryPath())
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}
	return nil
}

func DestroyRuntime() {
	if err := ort.DestroyEnvironment(); err != nil {
		slog.Warn("destroy onnx runtime", "error", err)
	}
}

func sharedLibraryPath() string {
	switch runtime.GOOS {
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}

func NewRecognizer(cfg config.VisionConfig) (*Recognizer, error) {
	detPath := filepath.Join(cfg.ModelsDir, detectorModel)
	embPath := filepath.Join(cfg.ModelsDir, embedderModel)

	slog.Info("loading detection model", "path", detPath)
	det, err := NewDetector(detPath, float32(cfg.DetectionThreshold), float32(cfg.NMSThreshold))
	if err != nil {
		return nil, fmt.Errorf("load detector: %w", err)
	}

	slog.Info("loading embedding model", "path", embPath)
	emb, err := NewEmbedder(embPath)
	if err != nil {
		det.Close()
		return nil, fmt.Errorf("load embedder: %w", err)
	}

	return &Recognizer{detector: det, embedder: emb}, nil
}

// Recognize decodes data and returns its faces in detection order. An image
// without faces yields an empty slice.
func (r *Recognizer) Recognize(ctx context.Context, data []byte) ([]Face, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()

	start := time.Now()
	input := preprocessForDetection(img, r.detector.inputW, r.detector.inputH)
	observability.InferenceDuration.WithLabelValues("preprocess").Observe(time.Since(start).Seconds())

	r.mu.Lock()
	defer r.mu.Unlock()

	start = time.Now()
	dets, err := r.detector.Detect(input, b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	observability.InferenceDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	faces := make([]Face, 0, len(dets))
	for _, d := range dets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		crop := cropFace(img, d.BBox)
		if crop == nil {
			continue
		}

		start = time.Now()
		emb, err := r.embedder.Extract(preprocessForEmbedding(crop, r.embedder.inputW, r.embedder.inputH))
		if err != nil {
			return nil, fmt.Errorf("embed face: %w", err)
		}
		observability.InferenceDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())

		faces = append(faces, Face{
			Location:   locationOf(d.BBox),
			Embedding:  emb,
			Confidence: d.Confidence,
		})
	}
	return faces, nil
}

func locationOf(bbox [4]float32) models.FaceLocation {
	return models.FaceLocation{
		Left:   int(bbox[0]),
		Top:    int(bbox[1]),
		Right:  int(bbox[2]),
		Bottom: int(bbox[3]),
	}
}

func (r *Recognizer) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detector.Close()
	r.embedder.Close()
}
