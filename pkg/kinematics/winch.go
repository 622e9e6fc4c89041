// Winch kinematics for cable-driven robots. Each stepper pays out a
// cable from a fixed anchor; the stepper position is the cable length.
package kinematics

import (
	"math"

	"klipper-stepgen/pkg/motion"
)

// WinchKinematics maps one cable winch to a stepper.
type WinchKinematics struct {
	anchorX, anchorY, anchorZ float64
}

// NewWinchKinematics creates a winch kinematics instance from the anchor
// position of the cable.
func NewWinchKinematics(anchorX, anchorY, anchorZ float64) *WinchKinematics {
	return &WinchKinematics{anchorX: anchorX, anchorY: anchorY, anchorZ: anchorZ}
}

// CalcPosition returns the cable length from the anchor to the effector.
func (wk *WinchKinematics) CalcPosition(m *motion.Move, moveTime float64) float64 {
	c := m.GetCoord(moveTime)
	dx := c.X - wk.anchorX
	dy := c.Y - wk.anchorY
	dz := c.Z - wk.anchorZ
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
