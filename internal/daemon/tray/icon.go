package tray

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
)

// iconData is a 22x22 template icon: a filled circle with a play notch.
var iconData = renderIcon(22)

func renderIcon(size int) []byte {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	c := float64(size-1) / 2
	r := c - 1
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-c, float64(y)-c
			if dx*dx+dy*dy > r*r {
				continue
			}
			// Cut a right-pointing triangle out of the disc.
			if dx > -r/3 && dx < r/2 && abs(dy) < (r/2-dx)*0.6 {
				continue
			}
			img.SetNRGBA(x, y, color.NRGBA{A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
