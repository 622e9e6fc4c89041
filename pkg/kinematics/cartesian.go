// Cartesian kinematics: each stepper tracks one cartesian axis directly.
package kinematics

import (
	"fmt"

	"klipper-stepgen/pkg/errors"
	"klipper-stepgen/pkg/motion"
)

// CartesianKinematics maps a single cartesian axis to a stepper.
type CartesianKinematics struct {
	axis byte
}

// NewCartesianKinematics creates a cartesian kinematics instance for the
// given axis ('x', 'y' or 'z').
func NewCartesianKinematics(axis byte) (*CartesianKinematics, error) {
	if axis != 'x' && axis != 'y' && axis != 'z' {
		return nil, errors.KinematicsError(fmt.Sprintf("invalid cartesian axis: %c", axis))
	}
	return &CartesianKinematics{axis: axis}, nil
}

// CalcPosition returns the coordinate of the configured axis.
func (ck *CartesianKinematics) CalcPosition(m *motion.Move, moveTime float64) float64 {
	c := m.GetCoord(moveTime)
	switch ck.axis {
	case 'x':
		return c.X
	case 'y':
		return c.Y
	default:
		return c.Z
	}
}

// CartesianReverseKinematics is a cartesian axis with inverted motor
// direction, for steppers wired to move opposite to the axis.
type CartesianReverseKinematics struct {
	inner *CartesianKinematics
}

// NewCartesianReverseKinematics creates a reversed cartesian kinematics
// instance for the given axis.
func NewCartesianReverseKinematics(axis byte) (*CartesianReverseKinematics, error) {
	inner, err := NewCartesianKinematics(axis)
	if err != nil {
		return nil, err
	}
	return &CartesianReverseKinematics{inner: inner}, nil
}

// CalcPosition returns the negated coordinate of the configured axis.
func (ck *CartesianReverseKinematics) CalcPosition(m *motion.Move, moveTime float64) float64 {
	return -ck.inner.CalcPosition(m, moveTime)
}
