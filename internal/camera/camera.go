// Package camera abstracts the capture hardware behind a small driver
// interface with an explicit pipeline state machine. The physical camera is
// a single shared device: access is guarded by a non-blocking lock, and a
// second caller gets a busy signal instead of a queue slot.
package camera

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the capture pipeline's lifecycle state.
type State string

const (
	StateUninitialized State = "UNINITIALIZED"
	StateInitialized   State = "INITIALIZED"
	StatePlaying       State = "PLAYING"
	StateError         State = "ERROR"
)

// Status is a snapshot of the pipeline.
type Status struct {
	PipelineState State  `json:"pipeline_state"`
	Serial        string `json:"serial,omitempty"`
	Focus         int    `json:"focus"`
	Exposure      int    `json:"exposure"`
}

// ErrBusy signals that a capture is already in progress; the caller should
// retry after BusyRetryAfter rather than wait.
var ErrBusy = errors.New("camera busy")

// BusyRetryAfter is the advertised retry interval on ErrBusy.
const BusyRetryAfter = 3 * time.Second

// Driver is one camera implementation.
type Driver interface {
	Initialize(ctx context.Context, serial string, focus, exposure int) error
	SetProperties(ctx context.Context, focus, exposure int, skipSettle bool) error
	Capture(ctx context.Context) (image.Image, error)
	CaptureFast(ctx context.Context) (image.Image, error)
	Status() Status
	ResetPipeline(ctx context.Context) error
	RestartPipeline(ctx context.Context) error
}

// Controller serializes access to the single hardware device.
type Controller struct {
	driver Driver
	mu     sync.Mutex
	log    *zap.Logger
}

func NewController(driver Driver, log *zap.Logger) *Controller {
	return &Controller{driver: driver, log: log}
}

// WithExclusive runs fn holding the device. A concurrent holder produces
// ErrBusy immediately.
func (c *Controller) WithExclusive(fn func(Driver) error) error {
	if !c.mu.TryLock() {
		return ErrBusy
	}
	defer c.mu.Unlock()
	return fn(c.driver)
}

// Status reads the pipeline state without taking the device.
func (c *Controller) Status() Status {
	return c.driver.Status()
}

// Ready reports whether the pipeline can serve a session.
func (c *Controller) Ready() bool {
	switch c.driver.Status().PipelineState {
	case StateInitialized, StatePlaying:
		return true
	}
	return false
}
