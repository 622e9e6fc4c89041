package stepcompress

import (
	"fmt"

	"klipper-stepgen/pkg/errors"
)

// The maximum add delta between two valid quadratic sequences with the
// same reach; used to prune the bisection range.
const quadraticDev = 8

// points is the allowed clock range for one step: the step may be
// scheduled anywhere in [minp, maxp] without exceeding the error window.
type points struct {
	minp, maxp int32
}

// minmaxPoint computes the allowed range for the pending step at index
// idx, relative to lastStepClock. A step may be moved earlier by up to
// half the gap to its predecessor, capped at maxError.
func (sc *StepCompress) minmaxPoint(idx int) points {
	q := *sc.queue
	point := uint32(q[idx] - sc.lastStepClock)
	var prevpoint uint32
	if idx > 0 {
		prevpoint = uint32(q[idx-1] - sc.lastStepClock)
	}
	maxErr := (point - prevpoint) / 2
	if maxErr > sc.maxError {
		maxErr = sc.maxError
	}
	return points{minp: int32(point - maxErr), maxp: int32(point)}
}

func idivUp(n, d int32) int32 {
	if n >= 0 {
		return (n + d - 1) / d
	}
	return n / d
}

func idivDown(n, d int32) int32 {
	if n >= 0 {
		return n / d
	}
	return (n - d + 1) / d
}

// compressBisectAdd finds the longest valid (interval, count, add)
// sequence covering the front of the pending queue, bisecting over the
// add term. Each step of the resulting sequence lands within the error
// window of its queued clock.
func (sc *StepCompress) compressBisectAdd() StepMove {
	qlast := len(*sc.queue)
	if qlast > 65535 {
		qlast = 65535
	}
	point := sc.minmaxPoint(0)
	outerMininterval, outerMaxinterval := point.minp, point.maxp
	var add int32
	minadd, maxadd := int32(-0x8000), int32(0x7fff)
	bestinterval, bestcount, bestadd := int32(0), int32(1), int32(1)
	bestreach := int32(-1 << 31)
	var zerointerval, zerocount int32

	for {
		// Find longest valid sequence with the given 'add'
		var nextpoint points
		nextmininterval := outerMininterval
		nextmaxinterval := outerMaxinterval
		interval := nextmaxinterval
		nextcount := int32(1)
		for {
			nextcount++
			if int(nextcount-1) >= qlast {
				return StepMove{
					Interval: uint32(interval),
					Count:    uint16(nextcount - 1),
					Add:      int16(add),
				}
			}
			nextpoint = sc.minmaxPoint(int(nextcount - 1))
			nextaddfactor := nextcount * (nextcount - 1) / 2
			c := add * nextaddfactor
			if nextmininterval*nextcount < nextpoint.minp-c {
				nextmininterval = idivUp(nextpoint.minp-c, nextcount)
			}
			if nextmaxinterval*nextcount > nextpoint.maxp-c {
				nextmaxinterval = idivDown(nextpoint.maxp-c, nextcount)
			}
			if nextmininterval > nextmaxinterval {
				break
			}
			interval = nextmaxinterval
		}

		// Check if this is the best sequence found so far
		count := nextcount - 1
		addfactor := count * (count - 1) / 2
		reach := add*addfactor + interval*count
		if reach > bestreach || (reach == bestreach && interval > bestinterval) {
			bestinterval = interval
			bestcount = count
			bestadd = add
			bestreach = reach
			if add == 0 {
				zerointerval = interval
				zerocount = count
			}
			if count > 0x200 {
				// No 'add' improves a sequence this long; also avoids
				// integer overflow in the factors below
				break
			}
		}

		// Check if a greater or lesser add could extend the sequence
		nextaddfactor := nextcount * (nextcount - 1) / 2
		nextreach := add*nextaddfactor + interval*nextcount
		if nextreach < nextpoint.minp {
			minadd = add + 1
			outerMaxinterval = nextmaxinterval
		} else {
			maxadd = add - 1
			outerMininterval = nextmininterval
		}

		// The maximum valid deviation between two quadratic sequences
		// can be calculated and used to further limit the add range
		if count > 1 {
			errdelta := int32(sc.maxError) * quadraticDev / (count * count)
			if minadd < add-errdelta {
				minadd = add - errdelta
			}
			if maxadd > add+errdelta {
				maxadd = add + errdelta
			}
		}

		// See if the next point would further limit the add range
		c := outerMaxinterval * nextcount
		if minadd*nextaddfactor < nextpoint.minp-c {
			minadd = idivUp(nextpoint.minp-c, nextaddfactor)
		}
		c = outerMininterval * nextcount
		if maxadd*nextaddfactor > nextpoint.maxp-c {
			maxadd = idivDown(nextpoint.maxp-c, nextaddfactor)
		}

		// Bisect the valid add range and try again
		if minadd > maxadd {
			break
		}
		add = maxadd - (maxadd-minadd)/2
	}
	if zerocount+zerocount/16 >= bestcount {
		// Prefer add=0 since it's easier to verify and run
		return StepMove{Interval: uint32(zerointerval), Count: uint16(zerocount)}
	}
	return StepMove{
		Interval: uint32(bestinterval),
		Count:    uint16(bestcount),
		Add:      int16(bestadd),
	}
}

// checkLine verifies a compressed chunk schedules every step within its
// allowed range before it is emitted.
func (sc *StepCompress) checkLine(move StepMove) error {
	if move.Count == 0 || (move.Interval == 0 && move.Add == 0 && move.Count > 1) ||
		int32(move.Interval) < 0 {
		return sc.compressError(move, "invalid sequence")
	}
	interval := int32(move.Interval)
	add := int32(move.Add)
	p := int32(0)
	for i := 0; i < int(move.Count); i++ {
		allowed := sc.minmaxPoint(i)
		p += interval
		if p < allowed.minp || p > allowed.maxp {
			return sc.compressError(move, fmt.Sprintf(
				"point %d out of range [%d, %d] at step %d", p, allowed.minp, allowed.maxp, i+1))
		}
		if interval < 0 {
			return sc.compressError(move, "negative interval")
		}
		interval += add
	}
	return nil
}

// compressError reports a chunk that failed verification.
func (sc *StepCompress) compressError(move StepMove, reason string) error {
	err := errors.QueueCompressError(int(sc.oid), fmt.Sprintf(
		"compressed sequence interval=%d count=%d add=%d rejected: %s",
		move.Interval, move.Count, move.Add, reason))
	sc.logger.WithError(err).Error("step compression failed")
	return err
}
