// Package frame converts browser screenshots into fixed-geometry RGB24
// buffers for the encoder and back into JPEG for previews.
package frame

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // register decoder
	"image/jpeg"
	_ "image/png" // register decoder
	"time"

	"golang.org/x/image/draw"

	"github.com/smazurov/browsercast/internal/stream"
)

// Frame is one RGB24 image, row-major with no padding.
type Frame struct {
	Seq        uint64
	Width      int
	Height     int
	Pix        []byte
	CapturedAt time.Time
}

// Normalize decodes a PNG, JPEG or GIF screenshot and returns it as an
// RGB24 frame of exactly width x height. Images of a different size are
// resampled with Catmull-Rom; alpha is discarded.
func Normalize(raw []byte, width, height int) (*Frame, error) {
	if width <= 0 || height <= 0 {
		return nil, stream.NewError(stream.CodeInvalidConfig, fmt.Sprintf("invalid frame size %dx%d", width, height), nil)
	}
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, stream.NewError(stream.CodeDecodeError, "decode screenshot", err)
	}

	rect := image.Rect(0, 0, width, height)
	dst := image.NewRGBA(rect)
	sb := src.Bounds()
	if sb.Dx() == width && sb.Dy() == height {
		draw.Draw(dst, rect, src, sb.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, rect, src, sb, draw.Src, nil)
	}

	return &Frame{
		Width:  width,
		Height: height,
		Pix:    rgbaToRGB(dst),
	}, nil
}

func rgbaToRGB(img *image.RGBA) []byte {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+w*4]
		o := out[y*w*3:]
		for x := 0; x < w; x++ {
			o[x*3] = row[x*4]
			o[x*3+1] = row[x*4+1]
			o[x*3+2] = row[x*4+2]
		}
	}
	return out
}

// Size returns the expected byte length of Pix.
func (f *Frame) Size() int {
	return f.Width * f.Height * 3
}

// Image returns the frame as an opaque *image.RGBA.
func (f *Frame) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	for i, j := 0, 0; i+2 < len(f.Pix) && j+3 < len(img.Pix); i, j = i+3, j+4 {
		img.Pix[j] = f.Pix[i]
		img.Pix[j+1] = f.Pix[i+1]
		img.Pix[j+2] = f.Pix[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// EncodeJPEG encodes the frame as JPEG. Quality is clamped to 1-100.
func EncodeJPEG(f *Frame, quality int) ([]byte, error) {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	var buf bytes.Buffer
	buf.Grow(f.Width * f.Height / 4)
	if err := jpeg.Encode(&buf, f.Image(), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
