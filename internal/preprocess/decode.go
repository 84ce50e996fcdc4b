package preprocess

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/draw"

	// Formats accepted beyond imaging's built-in jpeg/png/gif/bmp/tiff set.
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
)

// ErrDecode is returned when the input bytes are not a decodable image.
var ErrDecode = errors.New("image decode failed")

// Decode decodes an encoded image. EXIF orientation is applied so phone
// photos reach the engine upright.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: zero-sized image %dx%d", ErrDecode, b.Dx(), b.Dy())
	}

	return img, nil
}

// ToGray converts any image to an 8-bit gray grid anchored at the origin.
func ToGray(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok && g.Bounds().Min == (image.Point{}) {
		return g
	}
	b := img.Bounds()
	dst := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
