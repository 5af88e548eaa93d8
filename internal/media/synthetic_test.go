package media

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sephoration/Yolo11-8Cell/internal/types"
)

func TestSyntheticSequentialReads(t *testing.T) {
	src := NewSynthetic(SyntheticConfig{Width: 4, Height: 2, TotalFrames: 3})
	defer src.Close()

	ctx := context.Background()
	for want := int64(0); want < 3; want++ {
		frame, err := src.ReadNext(ctx)
		if err != nil {
			t.Fatalf("ReadNext() = %v, want nil", err)
		}
		if frame.Index != want {
			t.Errorf("frame.Index = %d, want %d", frame.Index, want)
		}
		if len(frame.Data) != 4*2*types.BytesPerPixel {
			t.Errorf("len(Data) = %d, want %d", len(frame.Data), 4*2*types.BytesPerPixel)
		}
		for i, b := range frame.Data {
			if b != FillValue(want) {
				t.Fatalf("Data[%d] = %d, want %d", i, b, FillValue(want))
			}
		}
	}

	_, err := src.ReadNext(ctx)
	if !errors.Is(err, ErrEndOfStream) {
		t.Errorf("ReadNext() past end = %v, want ErrEndOfStream", err)
	}
}

func TestSyntheticSeekClamps(t *testing.T) {
	src := NewSynthetic(SyntheticConfig{TotalFrames: 10})
	defer src.Close()

	tests := []struct {
		name   string
		target int64
		want   int64
	}{
		{"in range", 7, 7},
		{"negative", -3, 0},
		{"past end", 99, 9},
	}

	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := src.Seek(tt.target); err != nil {
				t.Fatalf("Seek(%d) = %v, want nil", tt.target, err)
			}
			frame, err := src.ReadNext(ctx)
			if err != nil {
				t.Fatalf("ReadNext() = %v, want nil", err)
			}
			if frame.Index != tt.want {
				t.Errorf("frame.Index after Seek(%d) = %d, want %d", tt.target, frame.Index, tt.want)
			}
		})
	}
}

func TestSyntheticLiveNeverEnds(t *testing.T) {
	src := NewSynthetic(SyntheticConfig{Live: true, TotalFrames: 2})
	defer src.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if _, err := src.ReadNext(ctx); err != nil {
			t.Fatalf("ReadNext() on live source = %v, want nil", err)
		}
	}

	if err := src.Seek(0); !errors.Is(err, ErrNotSeekable) {
		t.Errorf("Seek() on live source = %v, want ErrNotSeekable", err)
	}
}

func TestSyntheticInjectedFailures(t *testing.T) {
	src := NewSynthetic(SyntheticConfig{
		TotalFrames:  5,
		ReadFailures: map[int64]int{0: 2},
	})
	defer src.Close()

	ctx := context.Background()
	for attempt := 0; attempt < 2; attempt++ {
		_, err := src.ReadNext(ctx)
		var readErr *ReadError
		if !errors.As(err, &readErr) {
			t.Fatalf("attempt %d: err = %v, want *ReadError", attempt, err)
		}
	}

	frame, err := src.ReadNext(ctx)
	if err != nil {
		t.Fatalf("ReadNext() after failures drained = %v, want nil", err)
	}
	if frame.Index != 0 {
		t.Errorf("frame.Index = %d, want 0", frame.Index)
	}
}

func TestSyntheticFailAllReads(t *testing.T) {
	src := NewSynthetic(SyntheticConfig{Live: true, FailAllReads: true})
	defer src.Close()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := src.ReadNext(ctx)
		var readErr *ReadError
		if !errors.As(err, &readErr) {
			t.Fatalf("err = %v, want *ReadError", err)
		}
	}
	if src.Reads() != 3 {
		t.Errorf("Reads() = %d, want 3", src.Reads())
	}
}

func TestSyntheticContextCancel(t *testing.T) {
	src := NewSynthetic(SyntheticConfig{ReadDelay: time.Second})
	defer src.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := src.ReadNext(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("ReadNext() with canceled context = %v, want context.Canceled", err)
	}
}

func TestSyntheticCloseCounting(t *testing.T) {
	src := NewSynthetic(SyntheticConfig{})
	src.Close()
	src.Close()
	if src.Closes() != 2 {
		t.Errorf("Closes() = %d, want 2", src.Closes())
	}
}
