package transform

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Intrinsics holds the parameters of a fisheye camera with square pixels: a single focal
// length and the optical center, all in pixels.
type Intrinsics struct {
	F  float64 `json:"focal_length"`
	Cx float64 `json:"cx"`
	Cy float64 `json:"cy"`
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// CheckValid checks if the fields for Intrinsics have valid inputs.
func (in Intrinsics) CheckValid() error {
	if !isFinite(in.F) || in.F <= 0 {
		return NewConfigError("focal_length", "must be a positive finite number, got %v", in.F)
	}
	if !isFinite(in.Cx) {
		return NewConfigError("cx", "must be finite, got %v", in.Cx)
	}
	if !isFinite(in.Cy) {
		return NewConfigError("cy", "must be finite, got %v", in.Cy)
	}
	return nil
}

// Normalize converts a pixel position to normalized image-plane coordinates.
func (in Intrinsics) Normalize(u, v float64) (float64, float64) {
	return (u - in.Cx) / in.F, (v - in.Cy) / in.F
}

// Denormalize converts normalized image-plane coordinates back to a pixel position.
func (in Intrinsics) Denormalize(x, y float64) (float64, float64) {
	return in.F*x + in.Cx, in.F*y + in.Cy
}

// CameraMatrix returns the 3x3 camera matrix K.
func (in Intrinsics) CameraMatrix() *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		in.F, 0, in.Cx,
		0, in.F, in.Cy,
		0, 0, 1,
	})
}
