// Package motion provides the trapezoidal move segment evaluated by the
// step generation core. A Move describes one planned motion: an
// acceleration ramp, a cruise phase, and a deceleration ramp, along a
// fixed direction vector in cartesian space.
package motion

import "math"

// Coord is a cartesian coordinate.
type Coord struct {
	X, Y, Z float64
}

// moveAccel holds the coefficients for one constant-acceleration phase.
// Distance traveled within the phase is (c1 + c2*t) * t.
type moveAccel struct {
	c1, c2 float64
}

// Move is a planned motion segment. PrintTime is the absolute start time;
// the move covers move times in [0, MoveT]. All other fields are derived
// by NewMove and treated as read-only afterwards.
type Move struct {
	PrintTime, MoveT float64

	accelT, cruiseT            float64
	cruiseStartD, decelStartD  float64
	cruiseV                    float64
	accel, decel               moveAccel
	startPos, axesR            Coord
}

// NewMove builds a move from its trapezoid parameters. startPos is the
// cartesian start position, axesD the total displacement per axis. startV
// and cruiseV are velocities along the move direction; accel is the
// magnitude used for both ramps.
func NewMove(printTime, accelT, cruiseT, decelT float64, startPos, axesD Coord,
	startV, cruiseV, accel float64) *Move {
	m := &Move{
		PrintTime: printTime,
		MoveT:     accelT + cruiseT + decelT,
		accelT:    accelT,
		cruiseT:   cruiseT,
		cruiseV:   cruiseV,
	}
	m.cruiseStartD = accelT * .5 * (cruiseV + startV)
	m.decelStartD = m.cruiseStartD + cruiseT*cruiseV
	m.accel = moveAccel{c1: startV, c2: .5 * accel}
	m.decel = moveAccel{c1: cruiseV, c2: -m.accel.c2}
	m.startPos = startPos
	invMoveD := 1. / math.Sqrt(axesD.X*axesD.X+axesD.Y*axesD.Y+axesD.Z*axesD.Z)
	m.axesR = Coord{axesD.X * invMoveD, axesD.Y * invMoveD, axesD.Z * invMoveD}
	return m
}

// GetDistance returns the distance traveled along the move direction at
// the given move time.
func (m *Move) GetDistance(moveTime float64) float64 {
	if moveTime < m.accelT {
		// Acceleration phase
		return (m.accel.c1 + m.accel.c2*moveTime) * moveTime
	}
	moveTime -= m.accelT
	if moveTime <= m.cruiseT {
		// Cruising phase
		return m.cruiseStartD + m.cruiseV*moveTime
	}
	// Deceleration phase
	moveTime -= m.cruiseT
	return m.decelStartD + (m.decel.c1+m.decel.c2*moveTime)*moveTime
}

// GetCoord returns the cartesian position at the given move time.
func (m *Move) GetCoord(moveTime float64) Coord {
	moveDist := m.GetDistance(moveTime)
	return Coord{
		X: m.startPos.X + m.axesR.X*moveDist,
		Y: m.startPos.Y + m.axesR.Y*moveDist,
		Z: m.startPos.Z + m.axesR.Z*moveDist,
	}
}

// StartPos returns the cartesian start position of the move.
func (m *Move) StartPos() Coord {
	return m.startPos
}
