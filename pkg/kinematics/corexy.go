// CoreXY and CoreXZ kinematics: paired steppers driving two axes through
// a crossed belt. Motor A tracks the sum of the two axes, motor B the
// difference:
//   - A position = X + Y
//   - B position = X - Y
package kinematics

import (
	"fmt"

	"klipper-stepgen/pkg/errors"
	"klipper-stepgen/pkg/motion"
)

// CoreXYKinematics maps one CoreXY motor to a stepper.
type CoreXYKinematics struct {
	plus bool
}

// NewCoreXYKinematics creates a CoreXY kinematics instance. The type
// selects the motor: '+' for the X+Y stepper, '-' for the X-Y stepper.
func NewCoreXYKinematics(typ byte) (*CoreXYKinematics, error) {
	if typ != '+' && typ != '-' {
		return nil, errors.KinematicsError(fmt.Sprintf("invalid corexy type: %c", typ))
	}
	return &CoreXYKinematics{plus: typ == '+'}, nil
}

// CalcPosition returns the belt position of the configured motor.
func (ck *CoreXYKinematics) CalcPosition(m *motion.Move, moveTime float64) float64 {
	c := m.GetCoord(moveTime)
	if ck.plus {
		return c.X + c.Y
	}
	return c.X - c.Y
}

// CoreXZKinematics maps one CoreXZ motor to a stepper (X paired with Z).
type CoreXZKinematics struct {
	plus bool
}

// NewCoreXZKinematics creates a CoreXZ kinematics instance ('+' or '-').
func NewCoreXZKinematics(typ byte) (*CoreXZKinematics, error) {
	if typ != '+' && typ != '-' {
		return nil, errors.KinematicsError(fmt.Sprintf("invalid corexz type: %c", typ))
	}
	return &CoreXZKinematics{plus: typ == '+'}, nil
}

// CalcPosition returns the belt position of the configured motor.
func (ck *CoreXZKinematics) CalcPosition(m *motion.Move, moveTime float64) float64 {
	c := m.GetCoord(moveTime)
	if ck.plus {
		return c.X + c.Z
	}
	return c.X - c.Z
}
