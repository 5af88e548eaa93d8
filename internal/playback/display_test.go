package playback

import (
	"testing"

	"github.com/Sephoration/Yolo11-8Cell/internal/types"
)

func bgrFrame(w, h int) types.Frame {
	return types.Frame{
		Index:  0,
		Width:  w,
		Height: h,
		Data:   make([]byte, w*h*types.BytesPerPixel),
	}
}

func TestDisplayImagePassthrough(t *testing.T) {
	img := displayImage(bgrFrame(320, 240), 0, 0)
	if img == nil {
		t.Fatal("displayImage() = nil, want image")
	}
	if img.Bounds().Dx() != 320 || img.Bounds().Dy() != 240 {
		t.Errorf("bounds = %v, want 320x240", img.Bounds())
	}
}

func TestDisplayImageScalesDown(t *testing.T) {
	tests := []struct {
		name         string
		w, h         int
		maxW, maxH   int
		wantW, wantH int
	}{
		{"width bound", 1280, 720, 640, 0, 640, 360},
		{"height bound", 1280, 720, 0, 360, 640, 360},
		{"both bounds tighter height", 1280, 720, 1000, 360, 640, 360},
		{"already inside", 320, 240, 640, 480, 320, 240},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := displayImage(bgrFrame(tt.w, tt.h), tt.maxW, tt.maxH)
			if img == nil {
				t.Fatal("displayImage() = nil, want image")
			}
			if img.Bounds().Dx() != tt.wantW || img.Bounds().Dy() != tt.wantH {
				t.Errorf("bounds = %dx%d, want %dx%d",
					img.Bounds().Dx(), img.Bounds().Dy(), tt.wantW, tt.wantH)
			}
		})
	}
}

func TestDisplayImageEmptyFrame(t *testing.T) {
	if img := displayImage(types.Frame{}, 640, 480); img != nil {
		t.Error("displayImage() on empty frame != nil, want nil")
	}
}
