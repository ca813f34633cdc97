// Package encoder downsamples captured video frames into bounded JPEG
// payloads. Frames are transmitted once per second for the whole duration of
// a task, so the output must stay small regardless of the source resolution.
package encoder

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

const (
	DefaultMaxWidth  = 640
	DefaultMaxHeight = 480
	DefaultQuality   = 70
)

type Options struct {
	MaxWidth  int
	MaxHeight int
	Quality   int
}

func (o Options) withDefaults() Options {
	if o.MaxWidth <= 0 {
		o.MaxWidth = DefaultMaxWidth
	}
	if o.MaxHeight <= 0 {
		o.MaxHeight = DefaultMaxHeight
	}
	if o.Quality <= 0 || o.Quality > 100 {
		o.Quality = DefaultQuality
	}
	return o
}

// FitWithin returns the target dimensions for a w×h frame constrained to
// maxW×maxH. Aspect ratio is preserved and frames are only ever scaled down;
// a frame already inside the bounds keeps its dimensions.
func FitWithin(w, h, maxW, maxH int) (int, int) {
	if w <= maxW && h <= maxH {
		return w, h
	}
	sw := float64(maxW) / float64(w)
	sh := float64(maxH) / float64(h)
	s := sw
	if sh < s {
		s = sh
	}
	tw := int(float64(w) * s)
	th := int(float64(h) * s)
	if tw < 1 {
		tw = 1
	}
	if th < 1 {
		th = 1
	}
	return tw, th
}

// Encode is a pure function of (frame, options): it performs no I/O and does
// not retain the input image.
func Encode(img image.Image, opts Options) ([]byte, error) {
	opts = opts.withDefaults()
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("encode frame: empty source %dx%d", w, h)
	}

	src := img
	if tw, th := FitWithin(w, h, opts.MaxWidth, opts.MaxHeight); tw != w || th != h {
		dst := image.NewRGBA(image.Rect(0, 0, tw, th))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
		src = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: opts.Quality}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
