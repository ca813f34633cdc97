// Package capture abstracts video capture devices. The telemetry session owns
// exactly one Device at a time; acquisition and release bracket the session's
// Active state.
package capture

import (
	"context"
	"image"
)

// Facing hints which camera to prefer when more than one is present.
type Facing string

const (
	FacingFront Facing = "front"
	FacingBack  Facing = "back"
)

// Config describes the requested capture characteristics. Width and Height
// are targets; the device may deliver a different source resolution, which
// the encoder bounds afterwards.
type Config struct {
	Width  int
	Height int
	Facing Facing
}

// Device is an exclusively owned capture handle.
//
// Implementations must guarantee:
//   - Grab returns the most recent available frame
//   - Close releases the underlying device and is idempotent
//   - Grab after Close fails rather than blocking
type Device interface {
	Grab(ctx context.Context) (image.Image, error)
	Close() error
}

// Provider acquires capture devices. Acquisition failures (no device,
// permission denied) are surfaced as device-class errors; the caller degrades
// to no-telemetry mode.
type Provider interface {
	Acquire(ctx context.Context, cfg Config) (Device, error)
}
