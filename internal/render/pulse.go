package render

import (
	"image"
	"image/color"
	"image/draw"
	"math"
	"time"

	"golang.org/x/image/vector"
)

// PulseIcon is the animated ring drawn under the active pin on arrival.
// Each frame is a ring whose radius grows and whose alpha fades over Period.
type PulseIcon struct {
	Diameter int
	Period   time.Duration
	Color    color.RGBA
}

// NewPulseIcon returns the default arrival pulse.
func NewPulseIcon() *PulseIcon {
	return &PulseIcon{
		Diameter: 96,
		Period:   1500 * time.Millisecond,
		Color:    color.RGBA{R: 0xff, G: 0x6b, B: 0x35, A: 0xff},
	}
}

func (p *PulseIcon) Size() (int, int) { return p.Diameter, p.Diameter }
func (p *PulseIcon) Animated() bool   { return true }

// FramePeriod is the length of one pulse.
func (p *PulseIcon) FramePeriod() time.Duration { return p.Period }

// Phase returns the animation progress in [0, 1).
func (p *PulseIcon) Phase(elapsed time.Duration) float64 {
	if p.Period <= 0 {
		return 0
	}
	return float64(elapsed%p.Period) / float64(p.Period)
}

// Render draws the frame for elapsed time since the animation started.
func (p *PulseIcon) Render(elapsed time.Duration) *image.RGBA {
	size := p.Diameter
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	phase := p.Phase(elapsed)

	c := float32(size) / 2
	inner := float32(size) * 0.15
	outer := inner + (c-inner)*float32(phase)
	ringWidth := float32(size) * 0.06

	// Fading outer ring.
	ring := vector.NewRasterizer(size, size)
	circle(ring, c, c, outer, false)
	circle(ring, c, c, maxf(outer-ringWidth, 0), true)
	ring.DrawOp = draw.Over
	halo := p.Color
	halo.A = uint8(float64(p.Color.A) * (1 - phase))
	ring.Draw(dst, dst.Bounds(), image.NewUniform(premultiply(halo)), image.Point{})

	// Solid core.
	core := vector.NewRasterizer(size, size)
	circle(core, c, c, inner, false)
	core.DrawOp = draw.Over
	core.Draw(dst, dst.Bounds(), image.NewUniform(p.Color), image.Point{})
	return dst
}

// circle appends a closed circle path approximated by four cubic curves.
// A reversed circle inside another cuts a hole, since coverage accumulates
// with the sign of the winding.
func circle(z *vector.Rasterizer, cx, cy, r float32, reverse bool) {
	if r <= 0 {
		return
	}
	const k = 0.5522847498
	kr := float32(k) * r
	if !reverse {
		z.MoveTo(cx+r, cy)
		z.CubeTo(cx+r, cy+kr, cx+kr, cy+r, cx, cy+r)
		z.CubeTo(cx-kr, cy+r, cx-r, cy+kr, cx-r, cy)
		z.CubeTo(cx-r, cy-kr, cx-kr, cy-r, cx, cy-r)
		z.CubeTo(cx+kr, cy-r, cx+r, cy-kr, cx+r, cy)
	} else {
		z.MoveTo(cx+r, cy)
		z.CubeTo(cx+r, cy-kr, cx+kr, cy-r, cx, cy-r)
		z.CubeTo(cx-kr, cy-r, cx-r, cy-kr, cx-r, cy)
		z.CubeTo(cx-r, cy+kr, cx-kr, cy+r, cx, cy+r)
		z.CubeTo(cx+kr, cy+r, cx+r, cy+kr, cx+r, cy)
	}
	z.ClosePath()
}

func premultiply(c color.RGBA) color.RGBA {
	a := float64(c.A) / 255
	return color.RGBA{
		R: uint8(math.Round(float64(c.R) * a)),
		G: uint8(math.Round(float64(c.G) * a)),
		B: uint8(math.Round(float64(c.B) * a)),
		A: c.A,
	}
}

func maxf(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
