package trajectory

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"strings"

	// Screenshot formats accepted from agents.
	_ "image/gif"
	_ "image/png"
)

// JPEGQuality is the quality every step screenshot is stored at.
const JPEGQuality = 85

// DecodeScreenshot decodes a base64 screenshot, with or without a
// "data:image/...;base64," prefix.
func DecodeScreenshot(encoded string) (image.Image, error) {
	if i := strings.Index(encoded, ","); i >= 0 {
		encoded = encoded[i+1:]
	}
	encoded = strings.TrimSpace(encoded)

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		raw, rawErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(encoded, "="))
		if rawErr != nil {
			return nil, fmt.Errorf("decode base64: %w", err)
		}
		data = raw
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// flattenRGB drops the alpha channel so the JPEG encoder sees opaque pixels.
func flattenRGB(img image.Image) image.Image {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return img
	}

	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			dst.SetRGBA(x-b.Min.X, y-b.Min.Y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 0xff})
		}
	}
	return dst
}

// EncodeJPEG encodes img as an opaque JPEG at the given quality.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flattenRGB(img), &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func writeJPEG(path string, img image.Image) error {
	data, err := EncodeJPEG(img, JPEGQuality)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	return nil
}
