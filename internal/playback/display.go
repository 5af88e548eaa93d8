package playback

import (
	"image"

	xdraw "golang.org/x/image/draw"

	"github.com/Sephoration/Yolo11-8Cell/internal/types"
)

// displayImage converts a frame to RGBA for display consumers, scaling it
// down when it exceeds the configured bounds. Aspect ratio is preserved;
// frames already inside the bounds pass through unscaled. Returns nil for
// frames that cannot be converted.
func displayImage(frame types.Frame, maxW, maxH int) *image.RGBA {
	img := frame.ToRGBA()
	if img == nil {
		return nil
	}
	if maxW <= 0 && maxH <= 0 {
		return img
	}

	w := img.Bounds().Dx()
	h := img.Bounds().Dy()

	scale := 1.0
	if maxW > 0 && w > maxW {
		scale = float64(maxW) / float64(w)
	}
	if maxH > 0 && h > maxH {
		if s := float64(maxH) / float64(h); s < scale {
			scale = s
		}
	}
	if scale >= 1.0 {
		return img
	}

	dw := int(float64(w) * scale)
	dh := int(float64(h) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Src, nil)
	return dst
}
