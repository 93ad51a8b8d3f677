package camera

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenUnusableDeviceNotAvailable(t *testing.T) {
	// A device URL that cannot even form a request fails open with
	// camera_not_available rather than a bare timeout.
	ring := NewRing(8)
	src := NewSource("cam1", "http://bad host/image.jpg", "http", "", 10, ring, zerolog.Nop(),
		WithOpenTimeout(500*time.Millisecond))

	err := src.Open(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotAvailable)

	_, err = src.GrabFrame()
	assert.ErrorIs(t, err, ErrNotAvailable)
	src.Close()
}

func TestGrabFrameBeforeFirstFrame(t *testing.T) {
	ring := NewRing(8)
	src := NewSource("cam1", "/dev/video9", "usb", "", 2, ring, zerolog.Nop())
	_, err := src.GrabFrame()
	assert.ErrorIs(t, err, ErrDisconnected)
}
