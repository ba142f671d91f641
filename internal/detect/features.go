package detect

import (
	"fmt"
	"image"
	"math"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/technosupport/ts-aoi/internal/imaging"
)

// Extractor turns a crop into a feature vector for cosine comparison.
type Extractor interface {
	Extract(img image.Image) ([]float64, error)
}

// Cosine returns the cosine similarity of two vectors. Degenerate vectors
// (near-zero norm) or mismatched lengths yield 0.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	denom := math.Sqrt(na) * math.Sqrt(nb)
	if denom < 1e-8 {
		return 0
	}
	return dot / denom
}

// HistogramExtractor is the CPU fallback: an opponent-color histogram over
// the crop, quantized to 8 bins per axis. Deterministic, no model files
// required.
type HistogramExtractor struct{}

func (HistogramExtractor) Extract(img image.Image) ([]float64, error) {
	const bins = 8
	vec := make([]float64, bins*bins*bins)

	b := img.Bounds()
	var n float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			pr, pg, pb, _ := img.At(x, y).RGBA()
			r := float64(pr >> 8)
			g := float64(pg >> 8)
			bl := float64(pb >> 8)

			// Opponent color axes, shifted into [0,255].
			o1 := (r - g + 255) / 2
			o2 := (r + g - 2*bl + 510) / 4
			o3 := (r + g + bl) / 3

			i1 := quantize(o1, bins)
			i2 := quantize(o2, bins)
			i3 := quantize(o3, bins)
			vec[(i1*bins+i2)*bins+i3]++
			n++
		}
	}
	if n == 0 {
		return nil, fmt.Errorf("empty crop")
	}
	for i := range vec {
		vec[i] /= n
	}
	return vec, nil
}

func quantize(v float64, bins int) int {
	i := int(v * float64(bins) / 256)
	if i < 0 {
		return 0
	}
	if i >= bins {
		return bins - 1
	}
	return i
}

const (
	deepInputSide = 224
	deepOutputDim = 1280
)

// DeepExtractor runs a MobileNet-style feature model through ONNX Runtime.
// The session holds fixed input/output tensors, so Extract serializes calls.
type DeepExtractor struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	mu      sync.Mutex
}

// NewDeepExtractor loads the model at modelPath. libraryPath points at the
// ONNX Runtime shared library; empty means the platform default lookup.
func NewDeepExtractor(modelPath, libraryPath string) (*DeepExtractor, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("feature model not found: %w", err)
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("initialize onnx runtime: %w", err)
		}
	}

	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, deepInputSide, deepInputSide))
	if err != nil {
		return nil, err
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, deepOutputDim))
	if err != nil {
		input.Destroy()
		return nil, err
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input"}, []string{"output"},
		[]ort.ArbitraryTensor{input}, []ort.ArbitraryTensor{output}, nil)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("create inference session: %w", err)
	}

	return &DeepExtractor{session: session, input: input, output: output}, nil
}

func (d *DeepExtractor) Extract(img image.Image) ([]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	resized := imaging.Resize(img, deepInputSide, deepInputSide)
	data := d.input.GetData()
	plane := deepInputSide * deepInputSide
	for y := 0; y < deepInputSide; y++ {
		for x := 0; x < deepInputSide; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			i := y*deepInputSide + x
			data[i] = float32(r>>8) / 255
			data[plane+i] = float32(g>>8) / 255
			data[2*plane+i] = float32(b>>8) / 255
		}
	}

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("feature inference: %w", err)
	}

	out := d.output.GetData()
	vec := make([]float64, len(out))
	for i, v := range out {
		vec[i] = float64(v)
	}
	return vec, nil
}

func (d *DeepExtractor) Close() {
	d.session.Destroy()
	d.input.Destroy()
	d.output.Destroy()
}

// NewExtractor probes for the deep feature model and falls back to the
// histogram extractor when the model or runtime is unavailable. The fallback
// keeps inspections running on machines without the inference stack.
func NewExtractor(modelPath, libraryPath string, log *zap.Logger) Extractor {
	if modelPath == "" {
		log.Info("no feature model configured, using histogram features")
		return HistogramExtractor{}
	}
	deep, err := NewDeepExtractor(modelPath, libraryPath)
	if err != nil {
		log.Warn("deep feature extractor unavailable, using histogram features",
			zap.String("model", modelPath), zap.Error(err))
		return HistogramExtractor{}
	}
	log.Info("deep feature extractor ready", zap.String("model", modelPath))
	return deep
}
