// Linear delta kinematics. Each tower carriage height is determined by
// the effector position and the fixed arm length: the carriage sits at
// the Z where the arm exactly spans the XY offset to the tower.
package kinematics

import (
	"math"

	"klipper-stepgen/pkg/errors"
	"klipper-stepgen/pkg/motion"
)

// DeltaKinematics maps one delta tower to a stepper.
type DeltaKinematics struct {
	towerX, towerY float64
	arm2           float64 // Squared arm length
}

// NewDeltaKinematics creates a delta tower kinematics instance from the
// tower XY position and the arm length.
func NewDeltaKinematics(towerX, towerY, armLength float64) (*DeltaKinematics, error) {
	if armLength <= 0 {
		return nil, errors.KinematicsError("delta arm length must be positive")
	}
	return &DeltaKinematics{
		towerX: towerX,
		towerY: towerY,
		arm2:   armLength * armLength,
	}, nil
}

// CalcPosition returns the carriage height of the configured tower.
func (dk *DeltaKinematics) CalcPosition(m *motion.Move, moveTime float64) float64 {
	c := m.GetCoord(moveTime)
	dx := dk.towerX - c.X
	dy := dk.towerY - c.Y
	return math.Sqrt(dk.arm2-dx*dx-dy*dy) + c.Z
}
