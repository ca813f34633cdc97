// Package telemetry owns the biometric capture session that runs alongside an
// open task view: device acquisition, the backend start/stop handshake, and
// the fixed-period frame loop in between.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-agent/internal/capture"
	"github.com/yungbote/neurobridge-agent/internal/encoder"
	apperrors "github.com/yungbote/neurobridge-agent/internal/pkg/errors"
	"github.com/yungbote/neurobridge-agent/internal/platform/logger"
	"github.com/yungbote/neurobridge-agent/internal/types"
)

type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateActive   State = "active"
	StateStopping State = "stopping"
)

// API is the slice of the backend contract the session needs.
type API interface {
	StartSession(ctx context.Context, learnerID, taskID uuid.UUID) (string, error)
	SendFrame(ctx context.Context, token string, frame []byte, capturedAt time.Time) (*types.FrameMetrics, error)
	StopSession(ctx context.Context, token string) error
}

type Config struct {
	// FramePeriod is the capture loop period. Defaults to one second.
	FramePeriod time.Duration
	// StopTimeout bounds the best-effort backend stop call.
	StopTimeout time.Duration
	Capture     capture.Config
	Encode      encoder.Options
}

// Session drives one telemetry session per open task view.
//
// Lifecycle: Idle → Starting → Active → Stopping → Idle, with error paths
// from Starting back to Idle. The capture device and the backend session are
// always released together; a failed start disables telemetry for the rest of
// the view instead of retrying.
type Session struct {
	log       *logger.Logger
	api       API
	provider  capture.Provider
	cfg       Config
	onMetrics func(types.FrameMetrics)

	// op serializes whole Start/Stop sequences: a Stop issued while a Start
	// is settling waits for it rather than releasing a device mid-acquisition.
	op sync.Mutex

	mu       sync.Mutex
	state    State
	token    string
	device   capture.Device
	cancel   context.CancelFunc
	done     chan struct{}
	lastErr  error
	degraded bool
}

func NewSession(log *logger.Logger, api API, provider capture.Provider, cfg Config) *Session {
	if cfg.FramePeriod <= 0 {
		cfg.FramePeriod = time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	return &Session{
		log:      log.With("service", "TelemetrySession"),
		api:      api,
		provider: provider,
		cfg:      cfg,
		state:    StateIdle,
	}
}

// SetOnMetrics registers an observer for per-frame backend metrics. Must be
// called before Start.
func (s *Session) SetOnMetrics(fn func(types.FrameMetrics)) {
	s.onMetrics = fn
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the reason telemetry degraded, if it did.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Start acquires the capture device, negotiates a backend session and enters
// the capture loop. Any failure releases whatever was acquired, records the
// reason and leaves the session Idle; the task stays usable without
// telemetry and Start is not retried automatically for this view.
func (s *Session) Start(ctx context.Context, learnerID, taskID uuid.UUID) error {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("start telemetry: session is %s", state)
	}
	if s.degraded {
		err := s.lastErr
		s.mu.Unlock()
		return fmt.Errorf("start telemetry: disabled for this view: %w", err)
	}
	s.state = StateStarting
	s.mu.Unlock()

	dev, err := s.provider.Acquire(ctx, s.cfg.Capture)
	if err != nil {
		return s.degrade(fmt.Errorf("acquire capture device: %w", err))
	}

	token, err := s.api.StartSession(ctx, learnerID, taskID)
	if err != nil {
		_ = dev.Close()
		return s.degrade(fmt.Errorf("start backend session: %w", err))
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.mu.Lock()
	s.device = dev
	s.token = token
	s.cancel = cancel
	s.done = done
	s.state = StateActive
	s.mu.Unlock()

	go s.captureLoop(loopCtx, dev, token, done)
	s.log.Info("telemetry session active",
		"learner_id", learnerID, "task_id", taskID, "session_token", token)
	return nil
}

func (s *Session) degrade(err error) error {
	s.mu.Lock()
	s.state = StateIdle
	s.degraded = true
	s.lastErr = err
	s.mu.Unlock()
	s.log.Warn("telemetry unavailable for this view", "error", err)
	return err
}

// Stop tears the session down: cancel the capture loop, release the device,
// then make one best-effort backend stop call. Idempotent and safe from any
// state; a Stop racing a Start waits for the Start to settle first.
func (s *Session) Stop(ctx context.Context) {
	s.op.Lock()
	defer s.op.Unlock()

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.state = StateStopping
	cancel := s.cancel
	done := s.done
	dev := s.device
	token := s.token
	s.cancel = nil
	s.done = nil
	s.device = nil
	s.token = ""
	s.mu.Unlock()

	cancel()
	<-done
	_ = dev.Close()

	// The backend reaps abandoned sessions, so a failed stop is logged and
	// never retried. Teardown must finish even when the view context is gone.
	stopCtx, cancelStop := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StopTimeout)
	if err := s.api.StopSession(stopCtx, token); err != nil {
		s.log.Warn("backend session stop failed", "session_token", token, "error", err)
	}
	cancelStop()

	s.mu.Lock()
	s.state = StateIdle
	s.mu.Unlock()
	s.log.Info("telemetry session stopped")
}

func (s *Session) captureLoop(ctx context.Context, dev capture.Device, token string, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.FramePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if lost := s.sendFrame(ctx, dev, token); lost {
				return
			}
		}
	}
}

// sendFrame captures, encodes and transmits one frame. Per-frame transport
// failures are swallowed; the next tick simply tries again. Only device loss
// (or Stop) ends the loop.
func (s *Session) sendFrame(ctx context.Context, dev capture.Device, token string) (deviceLost bool) {
	img, err := dev.Grab(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		if apperrors.IsDeviceError(err) || errors.Is(err, context.Canceled) {
			s.log.Warn("capture device lost, ending frame loop", "error", err)
			return true
		}
		s.log.Debug("frame grab failed", "error", err)
		return false
	}
	capturedAt := time.Now().UTC()

	frame, err := encoder.Encode(img, s.cfg.Encode)
	if err != nil {
		s.log.Debug("frame encode failed", "error", err)
		return false
	}

	metrics, err := s.api.SendFrame(ctx, token, frame, capturedAt)
	if err != nil {
		if ctx.Err() == nil {
			s.log.Debug("frame send failed", "error", err)
		}
		return false
	}
	if metrics != nil && s.onMetrics != nil {
		s.onMetrics(*metrics)
	}
	return false
}
