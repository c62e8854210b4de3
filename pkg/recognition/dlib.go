package recognition

import (
	"context"
	"fmt"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/MrCodeEU/rollcall/pkg/logging"
)

// Indices of the eye contours in dlib's 68-point landmark layout.
const (
	dlibShapePoints = 68
	dlibLeftEye     = 36
	dlibRightEye    = 42
	eyePoints       = 6
)

// faceEngine is the subset of *face.Recognizer the oracle uses.
type faceEngine interface {
	Recognize(imgData []byte) ([]face.Face, error)
	Close()
}

// DlibOracle implements Oracle using dlib via go-face.
//
// The model directory must contain:
// - shape_predictor_5_face_landmarks.dat
// - dlib_face_recognition_resnet_model_v1.dat
// - mmod_human_face_detector.dat
//
// The stock 5-point predictor does not place eye contours, so detections carry
// landmarks only when a 68-point predictor is installed under the 5-point name.
type DlibOracle struct {
	mu     sync.Mutex
	engine faceEngine
}

// NewDlibOracle loads the dlib models from modelPath.
func NewDlibOracle(modelPath string) (*DlibOracle, error) {
	logging.Infof("Loading face recognition models from: %s", modelPath)

	rec, err := face.NewRecognizer(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load models: %w", err)
	}

	logging.Infof("Face recognition models loaded successfully")
	return &DlibOracle{engine: rec}, nil
}

// Detect runs detection, landmarking and embedding on one JPEG image.
func (o *DlibOracle) Detect(ctx context.Context, jpeg []byte) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.engine == nil {
		return nil, ErrOracleClosed
	}

	faces, err := o.engine.Recognize(jpeg)
	if err != nil {
		return nil, fmt.Errorf("face detection failed: %w", err)
	}

	detections := make([]Detection, 0, len(faces))
	for _, f := range faces {
		rect := f.Rectangle
		detections = append(detections, Detection{
			Box: Rectangle{
				Top:    rect.Min.Y,
				Right:  rect.Max.X,
				Bottom: rect.Max.Y,
				Left:   rect.Min.X,
			},
			Embedding: Embedding(append([]float32(nil), f.Descriptor[:]...)),
			Landmarks: dlibLandmarks(f),
		})
	}
	return detections, nil
}

// dlibLandmarks extracts eye contours from a 68-point shape, or nil for other layouts.
func dlibLandmarks(f face.Face) Landmarks {
	if len(f.Shapes) != dlibShapePoints {
		return nil
	}

	contour := func(start int) []Point {
		pts := make([]Point, eyePoints)
		for i := range pts {
			p := f.Shapes[start+i]
			pts[i] = Point{X: float64(p.X), Y: float64(p.Y)}
		}
		return pts
	}

	return Landmarks{
		LeftEye:  contour(dlibLeftEye),
		RightEye: contour(dlibRightEye),
	}
}

// Close releases the recognizer resources.
func (o *DlibOracle) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.engine != nil {
		o.engine.Close()
		o.engine = nil
	}
	return nil
}
