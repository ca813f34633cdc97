package telemetry

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/neurobridge-agent/internal/capture"
	apperrors "github.com/yungbote/neurobridge-agent/internal/pkg/errors"
	"github.com/yungbote/neurobridge-agent/internal/platform/logger"
	"github.com/yungbote/neurobridge-agent/internal/types"
)

type fakeDevice struct {
	mu     sync.Mutex
	closed int
	grabs  int
}

func (d *fakeDevice) Grab(ctx context.Context) (image.Image, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed > 0 {
		return nil, apperrors.ErrDeviceUnavailable
	}
	d.grabs++
	return image.NewRGBA(image.Rect(0, 0, 8, 6)), nil
}

func (d *fakeDevice) Close() error {
	d.mu.Lock()
	d.closed++
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) closeCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

type fakeProvider struct {
	mu       sync.Mutex
	device   *fakeDevice
	err      error
	acquires int
}

func (p *fakeProvider) Acquire(ctx context.Context, cfg capture.Config) (capture.Device, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.acquires++
	if p.err != nil {
		return nil, p.err
	}
	return p.device, nil
}

type fakeAPI struct {
	startDelay time.Duration
	startErr   error
	frameErr   error
	stopErr    error

	starts int32
	frames int32
	stops  int32
}

func (a *fakeAPI) StartSession(ctx context.Context, learnerID, taskID uuid.UUID) (string, error) {
	if a.startDelay > 0 {
		select {
		case <-time.After(a.startDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	atomic.AddInt32(&a.starts, 1)
	if a.startErr != nil {
		return "", a.startErr
	}
	return "tok-" + taskID.String()[:8], nil
}

func (a *fakeAPI) SendFrame(ctx context.Context, token string, frame []byte, capturedAt time.Time) (*types.FrameMetrics, error) {
	atomic.AddInt32(&a.frames, 1)
	if a.frameErr != nil {
		return nil, a.frameErr
	}
	hr := 72.0
	return &types.FrameMetrics{HeartRate: &hr}, nil
}

func (a *fakeAPI) StopSession(ctx context.Context, token string) error {
	atomic.AddInt32(&a.stops, 1)
	return a.stopErr
}

func (a *fakeAPI) frameCount() int { return int(atomic.LoadInt32(&a.frames)) }
func (a *fakeAPI) stopCount() int  { return int(atomic.LoadInt32(&a.stops)) }

func newTestSession(api *fakeAPI, provider *fakeProvider, period time.Duration) *Session {
	return NewSession(logger.NewNop(), api, provider, Config{FramePeriod: period})
}

func TestStartStopLifecycle(t *testing.T) {
	dev := &fakeDevice{}
	api := &fakeAPI{}
	s := newTestSession(api, &fakeProvider{device: dev}, 20*time.Millisecond)

	if s.State() != StateIdle {
		t.Fatalf("initial state=%s, want idle", s.State())
	}
	if api.frameCount() != 0 {
		t.Fatal("frames sent before start")
	}

	if err := s.Start(context.Background(), uuid.New(), uuid.New()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != StateActive {
		t.Fatalf("state=%s, want active", s.State())
	}

	time.Sleep(150 * time.Millisecond)
	s.Stop(context.Background())

	if s.State() != StateIdle {
		t.Fatalf("state after stop=%s, want idle", s.State())
	}
	sent := api.frameCount()
	if sent < 3 {
		t.Fatalf("frames sent=%d in 150ms at 20ms period, want >=3", sent)
	}
	if dev.closeCount() != 1 {
		t.Fatalf("device closed %d times, want 1", dev.closeCount())
	}
	if api.stopCount() != 1 {
		t.Fatalf("backend stop called %d times, want 1", api.stopCount())
	}

	// The loop is gone: no frames trickle in after Stop returned.
	time.Sleep(80 * time.Millisecond)
	if got := api.frameCount(); got != sent {
		t.Fatalf("frames kept flowing after stop: %d -> %d", sent, got)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	dev := &fakeDevice{}
	api := &fakeAPI{}
	s := newTestSession(api, &fakeProvider{device: dev}, 10*time.Millisecond)

	if err := s.Start(context.Background(), uuid.New(), uuid.New()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop(context.Background())
	s.Stop(context.Background())

	if api.stopCount() != 1 {
		t.Fatalf("backend stop called %d times, want 1", api.stopCount())
	}
	if dev.closeCount() != 1 {
		t.Fatalf("device closed %d times, want 1", dev.closeCount())
	}
}

func TestStopBeforeStartIsNoop(t *testing.T) {
	api := &fakeAPI{}
	s := newTestSession(api, &fakeProvider{device: &fakeDevice{}}, 10*time.Millisecond)
	s.Stop(context.Background())
	if api.stopCount() != 0 {
		t.Fatal("backend stop issued without a session")
	}
	if s.State() != StateIdle {
		t.Fatalf("state=%s, want idle", s.State())
	}
}

func TestNoFramesBeforeStartSettles(t *testing.T) {
	api := &fakeAPI{startDelay: 80 * time.Millisecond}
	s := newTestSession(api, &fakeProvider{device: &fakeDevice{}}, 10*time.Millisecond)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(context.Background(), uuid.New(), uuid.New()) }()

	time.Sleep(50 * time.Millisecond)
	if got := api.frameCount(); got != 0 {
		t.Fatalf("%d frames sent while start still settling", got)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop(context.Background())
}

func TestDeviceDeniedDegradesWithoutBackendCall(t *testing.T) {
	api := &fakeAPI{}
	provider := &fakeProvider{err: apperrors.ErrPermissionDenied}
	s := newTestSession(api, provider, 10*time.Millisecond)

	err := s.Start(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, apperrors.ErrPermissionDenied) {
		t.Fatalf("Start err=%v, want ErrPermissionDenied", err)
	}
	if s.State() != StateIdle {
		t.Fatalf("state=%s, want idle", s.State())
	}
	if atomic.LoadInt32(&api.starts) != 0 {
		t.Fatal("backend session started despite device denial")
	}

	// No automatic retry for this view instance.
	if err := s.Start(context.Background(), uuid.New(), uuid.New()); err == nil {
		t.Fatal("second Start should refuse after degrade")
	}
	if provider.acquires != 1 {
		t.Fatalf("device acquire attempted %d times, want 1", provider.acquires)
	}
	if s.Err() == nil {
		t.Fatal("degrade reason not recorded")
	}
}

func TestSessionRejectedReleasesDevice(t *testing.T) {
	dev := &fakeDevice{}
	api := &fakeAPI{startErr: apperrors.ErrSessionRejected}
	s := newTestSession(api, &fakeProvider{device: dev}, 10*time.Millisecond)

	err := s.Start(context.Background(), uuid.New(), uuid.New())
	if !errors.Is(err, apperrors.ErrSessionRejected) {
		t.Fatalf("Start err=%v, want ErrSessionRejected", err)
	}
	if dev.closeCount() != 1 {
		t.Fatalf("device closed %d times after rejected start, want 1", dev.closeCount())
	}
	if s.State() != StateIdle {
		t.Fatalf("state=%s, want idle", s.State())
	}
	if api.frameCount() != 0 {
		t.Fatal("frames sent without an active session")
	}
}

func TestStopWaitsForStartToSettle(t *testing.T) {
	dev := &fakeDevice{}
	api := &fakeAPI{startDelay: 80 * time.Millisecond}
	s := newTestSession(api, &fakeProvider{device: dev}, 10*time.Millisecond)

	startDone := make(chan error, 1)
	go func() { startDone <- s.Start(context.Background(), uuid.New(), uuid.New()) }()
	time.Sleep(20 * time.Millisecond)

	// Stop while the start handshake is still in flight: it must wait for
	// the start to settle, then unwind it completely.
	s.Stop(context.Background())

	if err := <-startDone; err != nil {
		t.Fatalf("Start: %v", err)
	}
	if s.State() != StateIdle {
		t.Fatalf("state=%s, want idle", s.State())
	}
	if dev.closeCount() != 1 {
		t.Fatalf("device closed %d times, want 1", dev.closeCount())
	}
	if api.stopCount() != 1 {
		t.Fatalf("backend stop called %d times, want 1", api.stopCount())
	}
}

func TestFrameTransportFailuresDoNotStopLoop(t *testing.T) {
	api := &fakeAPI{frameErr: errors.New("upstream hiccup")}
	s := newTestSession(api, &fakeProvider{device: &fakeDevice{}}, 15*time.Millisecond)

	if err := s.Start(context.Background(), uuid.New(), uuid.New()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	s.Stop(context.Background())

	if got := api.frameCount(); got < 3 {
		t.Fatalf("loop attempted %d sends despite failures, want >=3", got)
	}
	if s.State() != StateIdle {
		t.Fatalf("state=%s, want idle", s.State())
	}
}

func TestStopFailureIsSwallowed(t *testing.T) {
	api := &fakeAPI{stopErr: errors.New("backend gone")}
	s := newTestSession(api, &fakeProvider{device: &fakeDevice{}}, 10*time.Millisecond)

	if err := s.Start(context.Background(), uuid.New(), uuid.New()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Stop(context.Background())
	if s.State() != StateIdle {
		t.Fatalf("state=%s, want idle after failed backend stop", s.State())
	}
	if api.stopCount() != 1 {
		t.Fatalf("backend stop retried: %d calls", api.stopCount())
	}
}

func TestMetricsObserver(t *testing.T) {
	api := &fakeAPI{}
	s := newTestSession(api, &fakeProvider{device: &fakeDevice{}}, 15*time.Millisecond)

	var seen int32
	s.SetOnMetrics(func(m types.FrameMetrics) {
		if m.HeartRate != nil && *m.HeartRate > 0 {
			atomic.AddInt32(&seen, 1)
		}
	})

	if err := s.Start(context.Background(), uuid.New(), uuid.New()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	time.Sleep(80 * time.Millisecond)
	s.Stop(context.Background())

	if atomic.LoadInt32(&seen) == 0 {
		t.Fatal("metrics observer never invoked")
	}
}
