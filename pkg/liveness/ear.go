package liveness

import (
	"math"

	"github.com/MrCodeEU/rollcall/pkg/recognition"
)

// eyePoints is the number of contour points per eye.
const eyePoints = 6

// EyeAspectRatio computes (|p1-p5| + |p2-p4|) / (2|p0-p3|) for a six point
// eye contour. It returns false when fewer than six points are given and 0
// when the eye corners coincide.
func EyeAspectRatio(eye []recognition.Point) (float64, bool) {
	if len(eye) < eyePoints {
		return 0, false
	}

	horizontal := dist(eye[0], eye[3])
	if horizontal == 0 {
		return 0, true
	}
	vertical := dist(eye[1], eye[5]) + dist(eye[2], eye[4])
	return vertical / (2 * horizontal), true
}

// AverageEAR returns the mean eye aspect ratio of both eyes. It returns false
// when either eye is missing or incomplete.
func AverageEAR(lm recognition.Landmarks) (float64, bool) {
	if lm == nil {
		return 0, false
	}
	left, ok := EyeAspectRatio(lm[recognition.LeftEye])
	if !ok {
		return 0, false
	}
	right, ok := EyeAspectRatio(lm[recognition.RightEye])
	if !ok {
		return 0, false
	}
	return (left + right) / 2, true
}

func dist(a, b recognition.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}
