package perception

import (
	"bytes"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

const thumbnailWidth = 320

// Thumbnail re-encodes a JPEG frame at reduced width for alert payloads.
// Frames already at or below the target width are re-encoded as-is.
func Thumbnail(jpegData []byte) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpegData))
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	if bounds.Dx() > thumbnailWidth {
		h := bounds.Dy() * thumbnailWidth / bounds.Dx()
		dst := image.NewRGBA(image.Rect(0, 0, thumbnailWidth, h))
		draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
