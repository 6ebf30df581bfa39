package transform

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// ProjectionKind names how the output camera is derived from the input camera.
type ProjectionKind string

const (
	// LegacyProjection reuses the input intrinsics unchanged.
	LegacyProjection = ProjectionKind("legacy")
	// ControlledProjection scales the focal length and keeps the optical center.
	ControlledProjection = ProjectionKind("controlled")
)

// ProjectionMode selects the output projection. Scale is only meaningful for ControlledProjection.
type ProjectionMode struct {
	Kind  ProjectionKind `json:"kind" jsonschema:"enum=legacy,enum=controlled"`
	Scale float64        `json:"scale,omitempty"`
}

// Legacy returns the mode that reuses the input intrinsics as the output projection.
func Legacy() ProjectionMode {
	return ProjectionMode{Kind: LegacyProjection}
}

// Controlled returns the mode whose output focal length is f*scale.
func Controlled(scale float64) ProjectionMode {
	return ProjectionMode{Kind: ControlledProjection, Scale: scale}
}

// ParseProjectionMode builds a mode from its name. The scale is ignored for legacy.
func ParseProjectionMode(kind string, scale float64) (ProjectionMode, error) {
	var mode ProjectionMode
	switch ProjectionKind(strings.ToLower(strings.TrimSpace(kind))) {
	case LegacyProjection:
		mode = Legacy()
	case ControlledProjection:
		mode = Controlled(scale)
	default:
		return ProjectionMode{}, NewConfigError("projection_mode", "unknown mode %q", kind)
	}
	return mode, mode.CheckValid()
}

// CheckValid checks that the mode is one of the known kinds with a usable scale.
func (m ProjectionMode) CheckValid() error {
	switch m.Kind {
	case LegacyProjection:
		return nil
	case ControlledProjection:
		if !isFinite(m.Scale) || m.Scale <= 0 {
			return NewConfigError("scale", "must be a positive finite number, got %v", m.Scale)
		}
		return nil
	default:
		return NewConfigError("projection_mode", "unknown mode %q", string(m.Kind))
	}
}

// OutputIntrinsics derives the output camera from the input camera.
func (m ProjectionMode) OutputIntrinsics(in Intrinsics) (Intrinsics, error) {
	if err := m.CheckValid(); err != nil {
		return Intrinsics{}, err
	}
	if m.Kind == LegacyProjection {
		return in, nil
	}
	return Intrinsics{F: in.F * m.Scale, Cx: in.Cx, Cy: in.Cy}, nil
}

// OutputCameraMatrix returns K_out for the given input camera.
func (m ProjectionMode) OutputCameraMatrix(in Intrinsics) (*mat.Dense, error) {
	out, err := m.OutputIntrinsics(in)
	if err != nil {
		return nil, err
	}
	return out.CameraMatrix(), nil
}

func (m ProjectionMode) String() string {
	if m.Kind == ControlledProjection {
		return fmt.Sprintf("%s(scale=%.3f)", m.Kind, m.Scale)
	}
	return string(m.Kind)
}
