package transparency

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/stickerflow/stickerflow/internal/domain"
)

const defaultMattingInput = 320

// ImageNet statistics, the normalization most portrait/salient-object matting
// models are trained with.
var (
	mattingMean = [3]float32{0.485, 0.456, 0.406}
	mattingStd  = [3]float32{0.229, 0.224, 0.225}
)

type MattingConfig struct {
	ModelPath  string
	InputName  string
	OutputName string
	InputSize  int
	Timeout    time.Duration
}

// ONNXMatting is the ML tier: a learned salient-object segmentation session
// producing a per-pixel alpha matte. The session owns fixed input/output
// tensors, so inference is serialized behind a mutex.
type ONNXMatting struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputSize    int
	timeout      time.Duration
}

func NewONNXMatting(cfg MattingConfig) (*ONNXMatting, error) {
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnx environment: %w", err)
	}

	inputSize := cfg.InputSize
	if inputSize <= 0 {
		inputSize = defaultMattingInput
	}
	inputName := cfg.InputName
	if inputName == "" {
		inputName = "input"
	}
	outputName := cfg.OutputName
	if outputName == "" {
		outputName = "output"
	}

	size := int64(inputSize)
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("create matting input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1, size, size))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create matting output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(cfg.ModelPath,
		[]string{inputName}, []string{outputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create matting session: %w", err)
	}

	return &ONNXMatting{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputSize:    inputSize,
		timeout:      cfg.Timeout,
	}, nil
}

func (m *ONNXMatting) Name() string {
	return domain.TierML
}

func (m *ONNXMatting) Apply(ctx context.Context, src *image.NRGBA) (*image.NRGBA, error) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	matte, err := m.infer(ctx, src)
	if err != nil {
		return nil, err
	}

	return applyMatte(src, matte), nil
}

func (m *ONNXMatting) infer(ctx context.Context, src *image.NRGBA) (*image.Gray, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: matting", domain.ErrTimeout)
	default:
	}

	scaled := resize.Resize(uint(m.inputSize), uint(m.inputSize), src, resize.Bilinear)
	fillInputTensor(m.inputTensor.GetData(), scaled, m.inputSize)

	done := make(chan error, 1)
	go func() {
		done <- m.session.Run()
	}()

	select {
	case <-ctx.Done():
		// The run finishes in the background still holding the lock; we just
		// stop waiting and hand the raster to the next tier.
		go func() { <-done }()
		return nil, fmt.Errorf("%w: matting", domain.ErrTimeout)
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("matting inference: %w", err)
		}
	}

	return matteFromOutput(m.outputTensor.GetData(), m.inputSize), nil
}

func (m *ONNXMatting) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inputTensor != nil {
		m.inputTensor.Destroy()
	}
	if m.outputTensor != nil {
		m.outputTensor.Destroy()
	}
	if m.session != nil {
		m.session.Destroy()
	}
	ort.DestroyEnvironment()
}

func fillInputTensor(data []float32, img image.Image, size int) {
	plane := size * size
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			idx := y*size + x
			data[idx] = (float32(r>>8)/255.0 - mattingMean[0]) / mattingStd[0]
			data[plane+idx] = (float32(g>>8)/255.0 - mattingMean[1]) / mattingStd[1]
			data[2*plane+idx] = (float32(b>>8)/255.0 - mattingMean[2]) / mattingStd[2]
		}
	}
}

// matteFromOutput min-max normalizes the raw matte into an 8-bit gray image.
func matteFromOutput(data []float32, size int) *image.Gray {
	lo, hi := data[0], data[0]
	for _, v := range data {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	if span <= 0 {
		span = 1
	}

	matte := image.NewGray(image.Rect(0, 0, size, size))
	for i, v := range data {
		matte.Pix[i] = uint8(((v - lo) / span) * 255)
	}
	return matte
}

func applyMatte(src *image.NRGBA, matte *image.Gray) *image.NRGBA {
	bounds := src.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	full := resize.Resize(uint(width), uint(height), matte, resize.Bilinear)

	out := image.NewNRGBA(bounds)
	copy(out.Pix, src.Pix)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			gray := color.GrayModel.Convert(full.At(x, y)).(color.Gray)
			out.Pix[out.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)+3] = gray.Y
		}
	}
	return out
}
