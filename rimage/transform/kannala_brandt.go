package transform

import (
	"fmt"
	"math"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
)

// degenerateRadius is the normalized radius below which a point is treated as lying on the optical axis.
const degenerateRadius = 1e-8

// AngleModel selects how the incidence angle is derived from the normalized radius of an
// output-plane point.
type AngleModel int

const (
	// AngleAtan treats the output plane as rectilinear: theta = atan(r). This matches the
	// common fisheye undistortion maps and is the default.
	AngleAtan AngleModel = iota
	// AngleLinear uses theta = r, the small-angle form used by the on-camera application.
	// With zero coefficients it reduces to a pure pinhole rescale.
	AngleLinear
)

var angleModelNames = map[AngleModel]string{AngleAtan: "atan", AngleLinear: "linear"}

// ParseAngleModel accepts "atan" or "linear"; an empty name means atan.
func ParseAngleModel(name string) (AngleModel, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "atan":
		return AngleAtan, nil
	case "linear":
		return AngleLinear, nil
	default:
		return AngleAtan, NewConfigError("angle_model", "unknown angle model %q", name)
	}
}

func (am AngleModel) String() string {
	if name, ok := angleModelNames[am]; ok {
		return name
	}
	return fmt.Sprintf("AngleModel(%d)", int(am))
}

// MarshalText encodes the model by name.
func (am AngleModel) MarshalText() ([]byte, error) {
	name, ok := angleModelNames[am]
	if !ok {
		return nil, errors.Errorf("unknown angle model %d", int(am))
	}
	return []byte(name), nil
}

// UnmarshalText decodes a name accepted by ParseAngleModel.
func (am *AngleModel) UnmarshalText(text []byte) error {
	m, err := ParseAngleModel(string(text))
	if err != nil {
		return err
	}
	*am = m
	return nil
}

// JSONSchema describes the model as its text form.
func (AngleModel) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Enum:        []interface{}{"atan", "linear"},
		Description: "atan projects through a rectilinear plane; linear uses theta = r",
	}
}

func (am AngleModel) theta(r float64) float64 {
	if am == AngleLinear {
		return r
	}
	return math.Atan(r)
}

// KannalaBrandt is the equidistant fisheye model with an odd polynomial radial correction:
//
//	theta_d = theta * (1 + k1*theta^2 + k2*theta^4 + k3*theta^6 + k4*theta^8)
//
// The four coefficients are the distortion coefficients of the lens.
type KannalaBrandt struct {
	K1 float64 `json:"k1"`
	K2 float64 `json:"k2"`
	K3 float64 `json:"k3"`
	K4 float64 `json:"k4"`
}

// NewKannalaBrandt takes in a slice of floats that will be passed into the struct in order.
func NewKannalaBrandt(inp []float64) (*KannalaBrandt, error) {
	if len(inp) > 4 {
		return nil, errors.Errorf("list of parameters too long, expected max 4, got %d", len(inp))
	}
	params := make([]float64, 4)
	copy(params, inp)
	kb := &KannalaBrandt{params[0], params[1], params[2], params[3]}
	if err := kb.CheckValid(); err != nil {
		return nil, err
	}
	return kb, nil
}

// CheckValid checks that every coefficient is a finite number.
func (kb *KannalaBrandt) CheckValid() error {
	if kb == nil {
		return InvalidDistortionError("KannalaBrandt shaped distortion_parameters not provided")
	}
	for i, k := range kb.Parameters() {
		if math.IsNaN(k) || math.IsInf(k, 0) {
			return errors.Wrapf(NewConfigError(fmt.Sprintf("k%d", i+1), "must be finite, got %v", k),
				"invalid distortion_parameters")
		}
	}
	return nil
}

// Parameters returns the parameters of the distortion model as a list of floats.
func (kb *KannalaBrandt) Parameters() []float64 {
	if kb == nil {
		return []float64{}
	}
	return []float64{kb.K1, kb.K2, kb.K3, kb.K4}
}

// Distort applies the radial polynomial to the incidence angle theta.
func (kb *KannalaBrandt) Distort(theta float64) float64 {
	theta2 := theta * theta
	theta4 := theta2 * theta2
	theta6 := theta4 * theta2
	theta8 := theta6 * theta2
	return theta * (1 + kb.K1*theta2 + kb.K2*theta4 + kb.K3*theta6 + kb.K4*theta8)
}

// derivative is d(theta_d)/d(theta).
func (kb *KannalaBrandt) derivative(theta float64) float64 {
	theta2 := theta * theta
	theta4 := theta2 * theta2
	theta6 := theta4 * theta2
	theta8 := theta6 * theta2
	return 1 + 3*kb.K1*theta2 + 5*kb.K2*theta4 + 7*kb.K3*theta6 + 9*kb.K4*theta8
}

// RadialScale returns theta_d/r for a point at normalized radius r. Points on the optical
// axis are left unperturbed, so the scale there is 1.
func (kb *KannalaBrandt) RadialScale(r float64, model AngleModel) float64 {
	if r <= degenerateRadius {
		return 1
	}
	return kb.Distort(model.theta(r)) / r
}

// TransformAngle distorts the normalized point (x, y) using the given angle model.
// NaN inputs come back as NaN.
func (kb *KannalaBrandt) TransformAngle(x, y float64, model AngleModel) (float64, float64) {
	scale := kb.RadialScale(math.Sqrt(x*x+y*y), model)
	return x * scale, y * scale
}

// Transform distorts the normalized point (x, y) with theta = atan(r).
func (kb *KannalaBrandt) Transform(x, y float64) (float64, float64) {
	return kb.TransformAngle(x, y, AngleAtan)
}
