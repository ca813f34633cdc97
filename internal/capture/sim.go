package capture

import (
	"context"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/fogleman/gg"

	apperrors "github.com/yungbote/neurobridge-agent/internal/pkg/errors"
)

// SimProvider renders synthetic frames so the agent can run end-to-end
// without camera hardware. It exposes a single device; acquiring it again
// before the previous handle is closed fails, mirroring exclusive webcam
// ownership.
type SimProvider struct {
	width  int
	height int

	mu    sync.Mutex
	inUse bool
}

func NewSimProvider(width, height int) *SimProvider {
	if width <= 0 {
		width = 1280
	}
	if height <= 0 {
		height = 720
	}
	return &SimProvider{width: width, height: height}
}

func (p *SimProvider) Acquire(ctx context.Context, cfg Config) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse {
		return nil, fmt.Errorf("sim device already acquired: %w", apperrors.ErrDeviceUnavailable)
	}
	p.inUse = true
	return &simDevice{provider: p, width: p.width, height: p.height}, nil
}

func (p *SimProvider) release() {
	p.mu.Lock()
	p.inUse = false
	p.mu.Unlock()
}

type simDevice struct {
	provider *SimProvider
	width    int
	height   int

	mu     sync.Mutex
	closed bool
	seq    int
}

func (d *simDevice) Grab(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("grab on closed device: %w", apperrors.ErrDeviceUnavailable)
	}
	d.seq++
	return renderTestPattern(d.width, d.height, d.seq), nil
}

func (d *simDevice) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()
	d.provider.release()
	return nil
}

// renderTestPattern draws a gray ramp plus a moving disc so consecutive
// frames differ and encode to non-trivial JPEGs.
func renderTestPattern(w, h, seq int) image.Image {
	dc := gg.NewContext(w, h)
	dc.SetRGB(0.12, 0.14, 0.20)
	dc.Clear()

	for i := 0; i < 8; i++ {
		shade := 0.2 + 0.08*float64(i)
		dc.SetRGB(shade, shade, shade)
		dc.DrawRectangle(float64(i)*float64(w)/8, 0, float64(w)/8, float64(h)/3)
		dc.Fill()
	}

	t := float64(seq) / 10
	cx := float64(w)/2 + math.Cos(t)*float64(w)/4
	cy := float64(h)*2/3 + math.Sin(t)*float64(h)/6
	dc.SetRGB(0.85, 0.45, 0.30)
	dc.DrawCircle(cx, cy, float64(h)/10)
	dc.Fill()

	return dc.Image()
}
