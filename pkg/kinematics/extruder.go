// Extruder kinematics: the extruder stepper tracks the filament position
// directly. Extruder-only moves are planned with the filament distance on
// the X axis.
package kinematics

import "klipper-stepgen/pkg/motion"

// ExtruderKinematics maps the extruder stepper to the filament position.
type ExtruderKinematics struct{}

// NewExtruderKinematics creates an extruder kinematics instance.
func NewExtruderKinematics() *ExtruderKinematics {
	return &ExtruderKinematics{}
}

// CalcPosition returns the filament position at the given move time.
func (ek *ExtruderKinematics) CalcPosition(m *motion.Move, moveTime float64) float64 {
	return m.GetCoord(moveTime).X
}
