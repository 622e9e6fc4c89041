// Package kinematics provides the per-stepper position transforms used by
// the step generation core. Each implementation maps a cartesian move to
// the coordinate of one stepper motor at a given move time.
package kinematics

import (
	"fmt"
	"strings"

	"klipper-stepgen/pkg/errors"
	"klipper-stepgen/pkg/motion"
)

// Kinematics computes a stepper coordinate from a move. Implementations
// must be pure: the same (move, time) input always yields the same
// position, with no side effects. The solver may call CalcPosition many
// times per step while bracketing and root-finding.
type Kinematics interface {
	// CalcPosition returns the stepper position at the given move time.
	CalcPosition(m *motion.Move, moveTime float64) float64
}

// NewByType creates a kinematics instance from a type name such as
// "cartesian_x", "corexy_plus" or "extruder". Types that need geometry
// (delta, winch) cannot be built from a bare name and must be constructed
// directly.
func NewByType(name string) (Kinematics, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cartesian_x":
		return NewCartesianKinematics('x')
	case "cartesian_y":
		return NewCartesianKinematics('y')
	case "cartesian_z":
		return NewCartesianKinematics('z')
	case "corexy_plus":
		return NewCoreXYKinematics('+')
	case "corexy_minus":
		return NewCoreXYKinematics('-')
	case "corexz_plus":
		return NewCoreXZKinematics('+')
	case "corexz_minus":
		return NewCoreXZKinematics('-')
	case "extruder":
		return NewExtruderKinematics(), nil
	default:
		return nil, errors.KinematicsError(fmt.Sprintf("unsupported kinematics type: %s", name))
	}
}
