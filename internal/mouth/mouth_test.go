package mouth

import (
	"context"
	"errors"
	"image"
	"os/exec"
	"path/filepath"
	"testing"

	"gocv.io/x/gocv"

	"github.com/lipcheck/lipcheck/internal/faults"
	"github.com/lipcheck/lipcheck/internal/landmarks"
	"github.com/lipcheck/lipcheck/internal/stabilize"
)

func TestPatchRect(t *testing.T) {
	bounds := image.Rect(0, 0, 256, 256)
	tests := []struct {
		name   string
		center landmarks.Point
		want   image.Rectangle
	}{
		{"centred", landmarks.Point{X: 128, Y: 128}, image.Rect(80, 80, 176, 176)},
		{"left edge", landmarks.Point{X: 45, Y: 128}, image.Rect(0, 80, 96, 176)},
		{"right edge", landmarks.Point{X: 210, Y: 128}, image.Rect(160, 80, 256, 176)},
		{"bottom edge", landmarks.Point{X: 128, Y: 212}, image.Rect(80, 160, 176, 256)},
		{"half rounds to even", landmarks.Point{X: 100.5, Y: 101.5}, image.Rect(52, 54, 148, 150)},
		{"past left edge", landmarks.Point{X: 40, Y: 128}, image.Rect(0, 80, 96, 176)},
		{"outside frame on the left", landmarks.Point{X: -10, Y: 128}, image.Rect(0, 80, 96, 176)},
		{"past bottom edge", landmarks.Point{X: 128, Y: 250}, image.Rect(80, 160, 176, 256)},
		{"outside frame below and right", landmarks.Point{X: 400, Y: 300}, image.Rect(160, 160, 256, 256)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PatchRect(bounds, tt.center, 48, 48, DefaultBiasThreshold)
			if err != nil {
				t.Fatalf("PatchRect() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("PatchRect() = %v, want %v", got, tt.want)
			}
			if got.Dx() != 96 || got.Dy() != 96 {
				t.Fatalf("patch size = %dx%d, want 96x96", got.Dx(), got.Dy())
			}
		})
	}
}

func mouthShape(cx, cy float64) landmarks.Shape {
	var s landmarks.Shape
	for i := range s {
		s[i] = landmarks.Point{X: cx - 40, Y: cy - 60}
	}
	for i := landmarks.MouthStart; i < landmarks.MouthStop; i++ {
		dx := float64(i-landmarks.MouthStart) - 9.5
		s[i] = landmarks.Point{X: cx + dx, Y: cy}
	}
	return s
}

func TestPlan_UsesTransformedMouthCentre(t *testing.T) {
	c := NewCropper()
	shapes := landmarks.StableSequence{mouthShape(100, 150), mouthShape(120, 150)}
	transforms := []stabilize.Transform{
		{A: 1, Tx: 28, Ty: 10},
		{A: 1, Tx: 8, Ty: 10},
	}

	patches, err := c.Plan(shapes, transforms)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	for i, p := range patches {
		if p.Center != (landmarks.Point{X: 128, Y: 160}) {
			t.Fatalf("patches[%d].Center = %v, want {128 160}", i, p.Center)
		}
		if p.Rect != image.Rect(80, 112, 176, 208) {
			t.Fatalf("patches[%d].Rect = %v", i, p.Rect)
		}
	}
}

func TestPlan_LengthMismatch(t *testing.T) {
	if _, err := NewCropper().Plan(landmarks.StableSequence{mouthShape(1, 1)}, nil); err == nil {
		t.Fatal("Plan() error = nil, want length mismatch")
	}
}

func TestPatchRect_PatchLargerThanFrame(t *testing.T) {
	_, err := PatchRect(image.Rect(0, 0, 80, 80), landmarks.Point{X: 40, Y: 40}, 48, 48, DefaultBiasThreshold)
	if !errors.Is(err, faults.ErrCrop) {
		t.Fatalf("PatchRect() error = %v, want crop error", err)
	}
}

func TestPlan_OutOfFrameMouthIsClamped(t *testing.T) {
	shapes := landmarks.StableSequence{mouthShape(128, 128), mouthShape(128, 128)}
	transforms := []stabilize.Transform{{A: 1, Tx: 200}, {A: 1, Tx: -200}}
	patches, err := NewCropper().Plan(shapes, transforms)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(patches) != 2 {
		t.Fatalf("len(patches) = %d, want 2", len(patches))
	}
	if want := image.Rect(160, 80, 256, 176); patches[0].Rect != want {
		t.Fatalf("patches[0].Rect = %v, want %v", patches[0].Rect, want)
	}
	if want := image.Rect(0, 80, 96, 176); patches[1].Rect != want {
		t.Fatalf("patches[1].Rect = %v, want %v", patches[1].Rect, want)
	}
}

func TestCrop_ProducesFixedSizePatches(t *testing.T) {
	frame := gocv.NewMatWithSize(300, 300, gocv.MatTypeCV8UC3)
	defer frame.Close()
	frame.SetTo(gocv.NewScalar(10, 20, 30, 0))

	c := NewCropper()
	shapes := landmarks.StableSequence{mouthShape(128, 160), mouthShape(128, 160)}
	transforms := []stabilize.Transform{stabilize.Identity, stabilize.Identity}

	rois, err := c.Crop([]gocv.Mat{frame, frame}, shapes, transforms)
	if err != nil {
		t.Fatalf("Crop() error = %v", err)
	}
	defer CloseAll(rois)

	if len(rois) != 2 {
		t.Fatalf("len(rois) = %d, want 2", len(rois))
	}
	for i, roi := range rois {
		if roi.Cols() != 96 || roi.Rows() != 96 {
			t.Fatalf("rois[%d] = %dx%d, want 96x96", i, roi.Cols(), roi.Rows())
		}
		px := roi.GetVecbAt(48, 48)
		if px[0] != 10 || px[1] != 20 || px[2] != 30 {
			t.Fatalf("rois[%d] centre pixel = %v, want [10 20 30]", i, px)
		}
	}
}

func TestFFmpegEncoder_ReportsEncodingError(t *testing.T) {
	err := FFmpegEncoder{FPS: 25}.Encode(context.Background(), nil, filepath.Join(t.TempDir(), "roi.mp4"))
	if !errors.Is(err, faults.ErrEncoding) {
		t.Fatalf("Encode() error = %v, want encoding error", err)
	}
}

func TestFFmpegEncoder_WritesClip(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}
	rois := make([]gocv.Mat, 5)
	for i := range rois {
		rois[i] = gocv.NewMatWithSize(96, 96, gocv.MatTypeCV8UC3)
		rois[i].SetTo(gocv.NewScalar(float64(i*40), 100, 200, 0))
	}
	defer CloseAll(rois)

	out := filepath.Join(t.TempDir(), "roi.mp4")
	if err := (FFmpegEncoder{}).Encode(context.Background(), rois, out); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
}
