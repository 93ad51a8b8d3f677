package perception

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"math/bits"

	xdraw "golang.org/x/image/draw"
)

// ChangeLevel classifies how much the scene moved between two analyzed frames.
type ChangeLevel string

const (
	ChangeNone     ChangeLevel = "NONE"
	ChangeMinor    ChangeLevel = "MINOR"
	ChangeModerate ChangeLevel = "MODERATE"
	ChangeMajor    ChangeLevel = "MAJOR"
)

// ChangeResult is the outcome of comparing a frame against the previous
// analyzed frame. Ephemeral, one per tick.
type ChangeResult struct {
	Distance    int
	Level       ChangeLevel
	Description string
}

// Thresholds are inclusive at the lower level: distance == Minor is NONE.
type Thresholds struct {
	Minor    int
	Moderate int
	Major    int
}

func DefaultThresholds() Thresholds {
	return Thresholds{Minor: 5, Moderate: 12, Major: 25}
}

// ChangeDetector computes 8x8 average perceptual hashes and classifies the
// Hamming distance to the hash of the last analyzed frame. Cheap enough to
// run on every captured frame.
type ChangeDetector struct {
	thresholds Thresholds
	prev       uint64
	hasPrev    bool
}

func NewChangeDetector(t Thresholds) *ChangeDetector {
	return &ChangeDetector{thresholds: t}
}

// Detect hashes the JPEG frame and compares against the previous analyzed
// hash. The first frame always reads as MAJOR so the loop seeds an analysis.
func (d *ChangeDetector) Detect(jpegData []byte) (ChangeResult, error) {
	h, err := HashJPEG(jpegData)
	if err != nil {
		return ChangeResult{}, err
	}
	if !d.hasPrev {
		d.prev = h
		return ChangeResult{Distance: 64, Level: ChangeMajor, Description: "first frame"}, nil
	}
	dist := Distance(d.prev, h)
	level := d.thresholds.Classify(dist)
	return ChangeResult{
		Distance:    dist,
		Level:       level,
		Description: describe(level, dist),
	}, nil
}

// Commit records the current frame's hash as the new baseline. Called only
// when the frame is actually analyzed, so comparisons are always against the
// last analyzed frame rather than the last captured one.
func (d *ChangeDetector) Commit(jpegData []byte) {
	if h, err := HashJPEG(jpegData); err == nil {
		d.prev = h
		d.hasPrev = true
	}
}

// Classify maps a Hamming distance onto a change level. Boundaries are
// inclusive at the lower level.
func (t Thresholds) Classify(dist int) ChangeLevel {
	switch {
	case dist <= t.Minor:
		return ChangeNone
	case dist <= t.Moderate:
		return ChangeMinor
	case dist <= t.Major:
		return ChangeModerate
	default:
		return ChangeMajor
	}
}

func describe(level ChangeLevel, dist int) string {
	switch level {
	case ChangeNone:
		return "scene unchanged"
	case ChangeMinor:
		return fmt.Sprintf("minor change (distance %d)", dist)
	case ChangeModerate:
		return fmt.Sprintf("moderate change (distance %d)", dist)
	default:
		return fmt.Sprintf("major change (distance %d)", dist)
	}
}

// HashJPEG computes an 8x8 average hash of the decoded frame: downscale to
// 8x8 grayscale, then one bit per pixel above the mean.
func HashJPEG(data []byte) (uint64, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decode frame: %w", err)
	}
	return HashImage(img), nil
}

// HashImage computes the 8x8 average hash of any image.
func HashImage(img image.Image) uint64 {
	small := image.NewGray(image.Rect(0, 0, 8, 8))
	xdraw.ApproxBiLinear.Scale(small, small.Bounds(), img, img.Bounds(), xdraw.Src, nil)

	var sum int
	for _, px := range small.Pix {
		sum += int(px)
	}
	mean := uint8(sum / 64)

	var h uint64
	for i, px := range small.Pix {
		if px > mean {
			h |= 1 << uint(i)
		}
	}
	return h
}

// Distance is the Hamming distance between two hashes.
func Distance(a, b uint64) int {
	return bits.OnesCount64(a ^ b)
}
