// Package imaging provides the pixel-level primitives the detectors share:
// cropping, resizing, right-angle rotation, denoising and color statistics.
// Frames are decoded once per capture group and passed around as image.Image.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"
)

// Crop returns the sub-image for the given rectangle as an independent RGBA
// buffer. The rectangle is clamped to the frame bounds.
func Crop(img image.Image, x1, y1, x2, y2 int) *image.RGBA {
	b := img.Bounds()
	if x1 < b.Min.X {
		x1 = b.Min.X
	}
	if y1 < b.Min.Y {
		y1 = b.Min.Y
	}
	if x2 > b.Max.X {
		x2 = b.Max.X
	}
	if y2 > b.Max.Y {
		y2 = b.Max.Y
	}
	r := image.Rect(0, 0, x2-x1, y2-y1)
	out := image.NewRGBA(r)
	draw.Draw(out, r, img, image.Pt(x1, y1), draw.Src)
	return out
}

// Resize scales img to w*h using nearest-neighbour sampling. Golden samples
// whose dimensions drifted from the ROI are resized before feature
// extraction, where sub-pixel fidelity doesn't matter.
func Resize(img image.Image, w, h int) *image.RGBA {
	src := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	if w <= 0 || h <= 0 || src.Dx() == 0 || src.Dy() == 0 {
		return out
	}
	for y := 0; y < h; y++ {
		sy := src.Min.Y + y*src.Dy()/h
		for x := 0; x < w; x++ {
			sx := src.Min.X + x*src.Dx()/w
			out.Set(x, y, img.At(sx, sy))
		}
	}
	return out
}

// Rotate rotates img by a multiple of 90 degrees counter-clockwise,
// expanding the canvas rather than cropping. Any other angle returns the
// input unchanged.
func Rotate(img image.Image, degrees int) image.Image {
	degrees = ((degrees % 360) + 360) % 360
	if degrees == 0 {
		return img
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var out *image.RGBA
	switch degrees {
	case 90:
		out = image.NewRGBA(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.Set(y, w-1-x, img.At(b.Min.X+x, b.Min.Y+y))
			}
		}
	case 180:
		out = image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.Set(w-1-x, h-1-y, img.At(b.Min.X+x, b.Min.Y+y))
			}
		}
	case 270:
		out = image.NewRGBA(image.Rect(0, 0, h, w))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				out.Set(h-1-y, x, img.At(b.Min.X+x, b.Min.Y+y))
			}
		}
	default:
		return img
	}
	return out
}

// Denoise applies a box-blur approximation of non-local-means denoising.
// Strength follows the h parameter convention: the compare detector uses
// h=10 (radius 2), the color detector a gentler h=5 (radius 1).
func Denoise(img image.Image, h int) *image.RGBA {
	radius := 1
	if h >= 10 {
		radius = 2
	}
	b := img.Bounds()
	w, ht := b.Dx(), b.Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, ht))

	for y := 0; y < ht; y++ {
		for x := 0; x < w; x++ {
			var sumR, sumG, sumB, n uint32
			for dy := -radius; dy <= radius; dy++ {
				yy := y + dy
				if yy < 0 || yy >= ht {
					continue
				}
				for dx := -radius; dx <= radius; dx++ {
					xx := x + dx
					if xx < 0 || xx >= w {
						continue
					}
					r, g, bl, _ := img.At(b.Min.X+xx, b.Min.Y+yy).RGBA()
					sumR += r >> 8
					sumG += g >> 8
					sumB += bl >> 8
					n++
				}
			}
			out.Set(x, y, color.RGBA{
				R: uint8(sumR / n),
				G: uint8(sumG / n),
				B: uint8(sumB / n),
				A: 255,
			})
		}
	}
	return out
}

// MeanRGB returns the arithmetic mean color of img as 8-bit RGB.
func MeanRGB(img image.Image) (r, g, b uint8) {
	bounds := img.Bounds()
	var sumR, sumG, sumB, n uint64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			pr, pg, pb, _ := img.At(x, y).RGBA()
			sumR += uint64(pr >> 8)
			sumG += uint64(pg >> 8)
			sumB += uint64(pb >> 8)
			n++
		}
	}
	if n == 0 {
		return 0, 0, 0
	}
	return uint8(sumR / n), uint8(sumG / n), uint8(sumB / n)
}

// EncodeJPEG serializes img at the quality the capture pipeline uses.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("jpeg encode: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeJPEG parses a JPEG byte stream.
func DecodeJPEG(data []byte) (image.Image, error) {
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("jpeg decode: %w", err)
	}
	return img, nil
}

// LoadJPEG reads and decodes a JPEG file.
func LoadJPEG(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeJPEG(data)
}

// SaveJPEG writes img to path.
func SaveJPEG(path string, img image.Image) error {
	data, err := EncodeJPEG(img)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

// Uniform builds a w*h frame filled with a single color. Used by tests and
// the camera simulator.
func Uniform(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: c}, image.Point{}, draw.Src)
	return img
}
