// Package itersolve converts a planned move into the discrete, ordered
// step times of one stepper. It samples the stepper's kinematic position
// over the move, brackets each step-distance crossing, pins the crossing
// time with a false-position search, and appends the result to the
// stepper's step queue.
package itersolve

import (
	"math"

	"klipper-stepgen/pkg/kinematics"
	"klipper-stepgen/pkg/motion"
	"klipper-stepgen/pkg/stepcompress"
)

// timePos is a sample of the stepper position at a move time.
type timePos struct {
	time, position float64
}

// PostCallback runs after a successful step generation pass, once the
// commanded position has been updated.
type PostCallback func(sk *StepperKinematics)

// StepperKinematics carries the long-lived step generation state of one
// stepper: its position transform, step distance, queue, and the last
// commanded position. It is not safe for concurrent use; callers must
// serialize generation calls per stepper.
type StepperKinematics struct {
	stepDist     float64
	commandedPos float64
	sc           *stepcompress.StepCompress
	calcPosition kinematics.Kinematics
	postCb       PostCallback
}

// New creates stepper state around the given position transform.
func New(calc kinematics.Kinematics) *StepperKinematics {
	return &StepperKinematics{calcPosition: calc}
}

// SetStepCompress attaches the step queue and the distance of one step.
func (sk *StepperKinematics) SetStepCompress(sc *stepcompress.StepCompress, stepDist float64) {
	sk.sc = sc
	sk.stepDist = stepDist
}

// SetCommandedPos overwrites the stepper's commanded position.
func (sk *StepperKinematics) SetCommandedPos(pos float64) {
	sk.commandedPos = pos
}

// GetCommandedPos returns the stepper's commanded position.
func (sk *StepperKinematics) GetCommandedPos() float64 {
	return sk.commandedPos
}

// SetPostCallback registers a hook invoked after each successful
// generation pass.
func (sk *StepperKinematics) SetPostCallback(fn PostCallback) {
	sk.postCb = fn
}

// CalcPositionFromCoord returns the stepper position for a static
// cartesian coordinate, using a degenerate zero-time move.
func (sk *StepperKinematics) CalcPositionFromCoord(x, y, z float64) float64 {
	m := motion.NewMove(0., 0., 1., 0.,
		motion.Coord{X: x, Y: y, Z: z}, motion.Coord{Y: 1.}, 0., 1., 0.)
	return sk.calcPosition.CalcPosition(m, 0.)
}

// findStep locates the time the stepper position crosses target within
// the bracket [low, high], using the false position method. The two
// bracket samples are expected to straddle the target; if they do not,
// the low sample's time is returned paired with the target position.
func (sk *StepperKinematics) findStep(m *motion.Move, low, high timePos, target float64) timePos {
	bestGuess := high
	low.position -= target
	high.position -= target
	if high.position == 0 {
		// The high range was a perfect guess for the next step
		return bestGuess
	}
	highSign := math.Signbit(high.position)
	if highSign == math.Signbit(low.position) {
		// The target is not in the low/high range - return low range
		return timePos{low.time, target}
	}
	for {
		guessTime := (low.time*high.position - high.time*low.position) /
			(high.position - low.position)
		if math.Abs(guessTime-bestGuess.time) <= .000000001 {
			break
		}
		bestGuess.time = guessTime
		bestGuess.position = sk.calcPosition.CalcPosition(m, guessTime)
		guessPosition := bestGuess.position - target
		if math.Signbit(guessPosition) == highSign {
			high = timePos{guessTime, guessPosition}
		} else {
			low = timePos{guessTime, guessPosition}
		}
	}
	return bestGuess
}

// genPhase drives the generation loop; the phases preserve the re-entry
// points of the search.
type genPhase int

const (
	phaseCheckDirection genPhase = iota
	phaseExpandBracket
	phaseFindAndEmit
)

// GenSteps generates step times for the stepper over one move. On
// success the append session is finished, the commanded position is
// updated, and the post callback (if any) runs. On a queue error the
// error is returned immediately: the session is left unfinished and the
// commanded position is untouched.
func (sk *StepperKinematics) GenSteps(m *motion.Move) error {
	halfStep := .5 * sk.stepDist
	mcuFreq := sk.sc.GetMCUFreq()
	last := timePos{0., sk.commandedPos}
	low, high := last, last
	seekTimeDelta := .000100
	sdir := sk.sc.StepDir()
	qa := stepcompress.NewQueueAppend(sk.sc, m.PrintTime, .5)

	phase := phaseCheckDirection
	for {
		switch phase {
		case phaseCheckDirection:
			// Determine if next step is in forward or reverse direction
			dist := high.position - last.position
			if math.Abs(dist) < halfStep {
				phase = phaseExpandBracket
				continue
			}
			nextSdir := 0
			if dist > 0. {
				nextSdir = 1
			}
			if nextSdir != sdir {
				// Direction change
				if math.Abs(dist) < halfStep+.000000001 {
					// Only change direction if going past midway point
					phase = phaseExpandBracket
					continue
				}
				if last.time >= low.time && high.time > last.time {
					// Must seek new low range to avoid re-finding
					// previous time
					high.time = (last.time + high.time) * .5
					high.position = sk.calcPosition.CalcPosition(m, high.time)
					continue
				}
				if err := qa.SetNextStepDir(nextSdir == 1); err != nil {
					return err
				}
				sdir = nextSdir
			}
			phase = phaseFindAndEmit

		case phaseExpandBracket:
			if high.time >= m.MoveT {
				// At end of move
				qa.Finish()
				sk.commandedPos = last.position
				if sk.postCb != nil {
					sk.postCb(sk)
				}
				return nil
			}
			// Need to increase next step search range
			low = high
			high.time = last.time + seekTimeDelta
			seekTimeDelta += seekTimeDelta
			if high.time > m.MoveT {
				high.time = m.MoveT
			}
			high.position = sk.calcPosition.CalcPosition(m, high.time)
			phase = phaseCheckDirection

		case phaseFindAndEmit:
			// Find step
			target := last.position - halfStep
			if sdir == 1 {
				target = last.position + halfStep
			}
			next := sk.findStep(m, low, high, target)
			// Add step at given time
			if err := qa.Append(next.time * mcuFreq); err != nil {
				return err
			}
			seekTimeDelta = next.time - last.time
			if seekTimeDelta < .000000001 {
				seekTimeDelta = .000000001
			}
			if sdir == 1 {
				last.position = target + halfStep
			} else {
				last.position = target - halfStep
			}
			last.time = next.time
			low = next
			if last.time >= high.time {
				// The high range is no longer valid - recalculate it
				phase = phaseExpandBracket
			} else {
				phase = phaseCheckDirection
			}
		}
	}
}
