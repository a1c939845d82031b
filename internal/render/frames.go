package render

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"time"
)

// FrameCount is how many frames of an animated image are shipped to a
// remote renderer. The browser cycles through them.
const FrameCount = 12

// FrameStrip is an image rendered ahead of time for a renderer that cannot
// call back into Go. Frames are PNG data URLs.
type FrameStrip struct {
	Frames []string `json:"frames"`
	// FrameMs is the display time of each frame; zero for a static image.
	FrameMs int `json:"frameMs,omitempty"`
}

// periodic is implemented by animated images with a fixed loop length.
type periodic interface {
	FramePeriod() time.Duration
}

// EncodeFrames renders img into a FrameStrip. A static image yields a
// single frame. An animated image is sampled FrameCount times across its
// period, or across one second when it does not report one.
func EncodeFrames(img Image) (FrameStrip, error) {
	if !img.Animated() {
		frame, err := encodeFrame(img, 0)
		if err != nil {
			return FrameStrip{}, err
		}
		return FrameStrip{Frames: []string{frame}}, nil
	}

	period := time.Second
	if p, ok := img.(periodic); ok && p.FramePeriod() > 0 {
		period = p.FramePeriod()
	}
	step := period / FrameCount
	strip := FrameStrip{Frames: make([]string, FrameCount), FrameMs: int(step.Milliseconds())}
	for i := range strip.Frames {
		frame, err := encodeFrame(img, time.Duration(i)*step)
		if err != nil {
			return FrameStrip{}, fmt.Errorf("frame %d: %w", i, err)
		}
		strip.Frames[i] = frame
	}
	return strip, nil
}

func encodeFrame(img Image, elapsed time.Duration) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img.Render(elapsed)); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
