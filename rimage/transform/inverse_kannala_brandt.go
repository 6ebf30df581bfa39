package transform

import "math"

// InverseKannalaBrandt applies the inverse of the Kannala-Brandt fisheye model.
// Given distorted normalized points, it computes the corresponding undistorted points by
// solving the radial polynomial for theta with Newton-Raphson.
type InverseKannalaBrandt struct {
	Forward KannalaBrandt `json:"forward"`
	Angle   AngleModel    `json:"angle_model"`
}

// CheckValid checks if the forward coefficients are valid.
func (ikb *InverseKannalaBrandt) CheckValid() error {
	if ikb == nil {
		return InvalidDistortionError("InverseKannalaBrandt shaped distortion_parameters not provided")
	}
	return ikb.Forward.CheckValid()
}

// Parameters returns the forward coefficients as a list of floats.
func (ikb *InverseKannalaBrandt) Parameters() []float64 {
	if ikb == nil {
		return []float64{}
	}
	return ikb.Forward.Parameters()
}

// Undistort solves theta_d = theta*(1 + k1*theta^2 + ... + k4*theta^8) for theta.
// It returns NaN when no solution exists in [0, pi/2).
func (ikb *InverseKannalaBrandt) Undistort(thetaD float64) float64 {
	const maxIterations = 20
	const tolerance = 1e-10

	theta := thetaD
	for i := 0; i < maxIterations; i++ {
		residual := ikb.Forward.Distort(theta) - thetaD
		if math.Abs(residual) < tolerance {
			break
		}
		slope := ikb.Forward.derivative(theta)
		if slope == 0 {
			break
		}
		theta -= residual / slope
	}
	if math.IsNaN(theta) || theta < 0 || math.Abs(ikb.Forward.Distort(theta)-thetaD) > 1e-6 {
		return math.NaN()
	}
	if ikb.Angle == AngleAtan && theta >= math.Pi/2 {
		return math.NaN()
	}
	return theta
}

// Transform maps a distorted normalized point (xd, yd) to its undistorted position.
func (ikb *InverseKannalaBrandt) Transform(xd, yd float64) (float64, float64) {
	if ikb == nil {
		return xd, yd
	}
	rd := math.Sqrt(xd*xd + yd*yd)
	if rd <= degenerateRadius {
		return xd, yd
	}
	theta := ikb.Undistort(rd)
	r := theta
	if ikb.Angle == AngleAtan {
		r = math.Tan(theta)
	}
	scale := r / rd
	return xd * scale, yd * scale
}
