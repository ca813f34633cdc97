package capture

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/yungbote/neurobridge-agent/internal/pkg/errors"
)

func TestSimProviderExclusiveAcquisition(t *testing.T) {
	ctx := context.Background()
	p := NewSimProvider(64, 48)

	dev, err := p.Acquire(ctx, Config{Facing: FacingFront})
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	if _, err := p.Acquire(ctx, Config{}); !errors.Is(err, apperrors.ErrDeviceUnavailable) {
		t.Fatalf("second acquire err=%v, want ErrDeviceUnavailable", err)
	}

	if err := dev.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	dev2, err := p.Acquire(ctx, Config{})
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	_ = dev2.Close()
}

func TestSimDeviceGrab(t *testing.T) {
	ctx := context.Background()
	p := NewSimProvider(64, 48)
	dev, err := p.Acquire(ctx, Config{})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer dev.Close()

	img, err := dev.Grab(ctx)
	if err != nil {
		t.Fatalf("grab: %v", err)
	}
	b := img.Bounds()
	if b.Dx() != 64 || b.Dy() != 48 {
		t.Fatalf("frame %dx%d, want 64x48", b.Dx(), b.Dy())
	}
}

func TestSimDeviceCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	p := NewSimProvider(32, 24)
	dev, err := p.Acquire(ctx, Config{})
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := dev.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if _, err := dev.Grab(ctx); !errors.Is(err, apperrors.ErrDeviceUnavailable) {
		t.Fatalf("grab after close err=%v, want ErrDeviceUnavailable", err)
	}
}
