package camera

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Simulator is a software camera for development and tests. Frames are
// deterministic functions of the current focus/exposure, so a given settings
// group always reproduces the same image.
type Simulator struct {
	mu       sync.Mutex
	state    State
	serial   string
	focus    int
	exposure int

	settleDelay   time.Duration
	width, height int
	log           *zap.Logger
}

// NewSimulator builds a stopped simulator. settleDelay mimics the focus
// motor; tests pass 0.
func NewSimulator(settleDelay time.Duration, log *zap.Logger) *Simulator {
	return &Simulator{
		state:       StateUninitialized,
		settleDelay: settleDelay,
		width:       640,
		height:      480,
		log:         log,
	}
}

func (s *Simulator) Initialize(ctx context.Context, serial string, focus, exposure int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.serial = serial
	s.focus = focus
	s.exposure = exposure
	s.state = StatePlaying
	s.log.Info("simulator camera initialized",
		zap.String("serial", serial), zap.Int("focus", focus), zap.Int("exposure", exposure))
	return nil
}

// SetProperties applies settings and honors the settle delay unless the
// caller knows the optics are already at these values.
func (s *Simulator) SetProperties(ctx context.Context, focus, exposure int, skipSettle bool) error {
	s.mu.Lock()
	if s.state != StatePlaying && s.state != StateInitialized {
		s.mu.Unlock()
		return fmt.Errorf("cannot set properties in state %s", s.state)
	}
	s.focus = focus
	s.exposure = exposure
	s.mu.Unlock()

	if skipSettle || s.settleDelay == 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.settleDelay):
		return nil
	}
}

func (s *Simulator) Capture(ctx context.Context) (image.Image, error) {
	return s.capture(ctx)
}

// CaptureFast is the same frame without any stabilization wait; the
// simulator has no real stabilization, so both paths are identical.
func (s *Simulator) CaptureFast(ctx context.Context) (image.Image, error) {
	return s.capture(ctx)
}

func (s *Simulator) capture(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePlaying {
		return nil, fmt.Errorf("cannot capture in state %s", s.state)
	}

	// Seed the pattern from the active settings so each group produces a
	// distinct but reproducible frame.
	seedR := s.focus % 256
	seedG := s.exposure % 256
	img := image.NewRGBA(image.Rect(0, 0, s.width, s.height))
	for y := 0; y < s.height; y++ {
		for x := 0; x < s.width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((seedR + x) % 256),
				G: uint8((seedG + y) % 256),
				B: uint8((x + y) % 256),
				A: 255,
			})
		}
	}
	return img, nil
}

func (s *Simulator) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		PipelineState: s.state,
		Serial:        s.serial,
		Focus:         s.focus,
		Exposure:      s.exposure,
	}
}

// ResetPipeline tears the pipeline down; Initialize is required afterwards.
func (s *Simulator) ResetPipeline(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateUninitialized
	s.log.Info("simulator pipeline reset")
	return nil
}

// RestartPipeline brings an initialized pipeline back to playing without a
// full reconfiguration.
func (s *Simulator) RestartPipeline(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateUninitialized {
		return fmt.Errorf("cannot restart uninitialized pipeline")
	}
	s.state = StatePlaying
	s.log.Info("simulator pipeline restarted")
	return nil
}
