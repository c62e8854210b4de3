package recognition

import (
	"context"
	"errors"
	"image"
	"testing"

	"github.com/Kagami/go-face"
)

func shapes(n int) []image.Point {
	pts := make([]image.Point, n)
	for i := range pts {
		pts[i] = image.Point{X: i, Y: i * 2}
	}
	return pts
}

func TestDlibOracle_Detect(t *testing.T) {
	var desc face.Descriptor
	desc[0] = 0.25
	desc[127] = -0.5

	mock := &MockFaceEngine{
		RecognizeFunc: func(data []byte) ([]face.Face, error) {
			return []face.Face{
				{
					Rectangle:  image.Rect(10, 20, 50, 70),
					Descriptor: desc,
					Shapes:     shapes(68),
				},
				{
					Rectangle:  image.Rect(100, 100, 140, 150),
					Descriptor: desc,
					Shapes:     shapes(5),
				},
			}, nil
		},
	}
	oracle := &DlibOracle{engine: mock}

	detections, err := oracle.Detect(context.Background(), []byte{0xFF, 0xD8})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if len(detections) != 2 {
		t.Fatalf("expected 2 detections, got %d", len(detections))
	}

	first := detections[0]
	wantBox := Rectangle{Top: 20, Right: 50, Bottom: 70, Left: 10}
	if first.Box != wantBox {
		t.Errorf("box: got %+v, want %+v", first.Box, wantBox)
	}
	if len(first.Embedding) != 128 || first.Embedding[0] != 0.25 || first.Embedding[127] != -0.5 {
		t.Errorf("embedding not copied from descriptor")
	}

	left := first.Landmarks[LeftEye]
	right := first.Landmarks[RightEye]
	if len(left) != 6 || len(right) != 6 {
		t.Fatalf("expected 6-point eye contours, got %d and %d", len(left), len(right))
	}
	if left[0] != (Point{X: 36, Y: 72}) {
		t.Errorf("left eye should start at shape 36, got %+v", left[0])
	}
	if right[5] != (Point{X: 47, Y: 94}) {
		t.Errorf("right eye should end at shape 47, got %+v", right[5])
	}

	if detections[1].Landmarks != nil {
		t.Error("5-point shapes should not produce eye landmarks")
	}
}

func TestDlibOracle_NoFaces(t *testing.T) {
	oracle := &DlibOracle{engine: &MockFaceEngine{}}

	detections, err := oracle.Detect(context.Background(), nil)
	if err != nil {
		t.Fatalf("expected no error for an empty frame, got %v", err)
	}
	if len(detections) != 0 {
		t.Errorf("expected no detections, got %d", len(detections))
	}
}

func TestDlibOracle_EngineError(t *testing.T) {
	boom := errors.New("bad image")
	oracle := &DlibOracle{engine: &MockFaceEngine{
		RecognizeFunc: func(data []byte) ([]face.Face, error) { return nil, boom },
	}}

	_, err := oracle.Detect(context.Background(), nil)
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped engine error, got %v", err)
	}
}

func TestDlibOracle_Close(t *testing.T) {
	mock := &MockFaceEngine{}
	oracle := &DlibOracle{engine: mock}

	if err := oracle.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := oracle.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if mock.closed != 1 {
		t.Errorf("expected engine closed once, got %d", mock.closed)
	}

	if _, err := oracle.Detect(context.Background(), nil); !errors.Is(err, ErrOracleClosed) {
		t.Errorf("expected ErrOracleClosed, got %v", err)
	}
}

func TestDlibOracle_CancelledContext(t *testing.T) {
	called := false
	oracle := &DlibOracle{engine: &MockFaceEngine{
		RecognizeFunc: func(data []byte) ([]face.Face, error) {
			called = true
			return nil, nil
		},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := oracle.Detect(ctx, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("engine should not run for a cancelled context")
	}
}
