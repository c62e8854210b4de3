// Package recognition provides face matching against an enrolled reference set
// and the detection oracles that turn camera frames into embeddings and landmarks.
package recognition

import (
	"context"
	"errors"
	"math"
)

// Embedding is a fixed-length face descriptor produced by an oracle.
// Closer vectors (Euclidean) mean more similar faces.
type Embedding []float32

// Point is a 2D landmark coordinate.
type Point struct {
	X, Y float64
}

// Rectangle is a bounding box in the coordinate space of the image given to the oracle.
type Rectangle struct {
	Top, Right, Bottom, Left int
}

// Scale returns the rectangle with every coordinate divided by factor.
// It maps boxes found on a downscaled frame back to full-frame coordinates.
func (r Rectangle) Scale(factor float64) Rectangle {
	if factor <= 0 || factor == 1 {
		return r
	}
	return Rectangle{
		Top:    int(math.Round(float64(r.Top) / factor)),
		Right:  int(math.Round(float64(r.Right) / factor)),
		Bottom: int(math.Round(float64(r.Bottom) / factor)),
		Left:   int(math.Round(float64(r.Left) / factor)),
	}
}

// Landmark set names used by the liveness check.
const (
	LeftEye  = "left_eye"
	RightEye = "right_eye"
)

// Landmarks is a named set of landmark contours for one face.
type Landmarks map[string][]Point

// Detection is one face found in one frame.
type Detection struct {
	Box       Rectangle
	Embedding Embedding
	Landmarks Landmarks // nil when the oracle could not place landmarks
}

// Oracle detects faces in a JPEG-encoded image.
// An image without faces yields an empty slice and a nil error.
type Oracle interface {
	Detect(ctx context.Context, jpeg []byte) ([]Detection, error)
	Close() error
}

// ErrOracleClosed is returned when an oracle is used after Close.
var ErrOracleClosed = errors.New("oracle closed")

// EuclideanDistance calculates the Euclidean distance between two embeddings.
// Embeddings of different length are infinitely far apart.
func EuclideanDistance(a, b Embedding) float64 {
	if len(a) != len(b) {
		return math.MaxFloat64
	}

	var sum float64
	for i := range a {
		diff := float64(a[i] - b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
