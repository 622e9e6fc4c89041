// Package stepcompress maintains the per-stepper step queue. Step times
// are appended as absolute MCU clock ticks through a short-lived append
// session, then compressed into (interval, count, add) chunks that fit
// the MCU's queue_step command, each chunk accurate to within a
// configured error window.
package stepcompress

import (
	"math"

	"klipper-stepgen/pkg/errors"
	"klipper-stepgen/pkg/log"
	"klipper-stepgen/pkg/pool"
	"klipper-stepgen/pkg/protocol"
)

// Maximum clock delta kept in the pending queue; keeps the compression
// arithmetic within int32 range.
const clockDiffMax = 3 << 28

// StepMove is one compressed chunk of steps: Count steps where the
// delay between step i and i+1 is Interval + i*Add clock ticks.
type StepMove struct {
	Interval uint32
	Count    uint16
	Add      int16
}

// Clocks returns the total clock ticks the chunk spans.
func (m StepMove) Clocks() uint64 {
	count := uint64(m.Count)
	base := uint64(m.Interval) * count
	addfactor := int64(count) * int64(count-1) / 2
	return uint64(int64(base) + int64(m.Add)*addfactor)
}

// FlushFunc observes compressed chunks as they leave the pending queue.
type FlushFunc func(oid uint8, firstClock uint64, move StepMove, dir bool)

// StepCompress holds the step queue state for one stepper.
type StepCompress struct {
	oid      uint8
	maxError uint32

	// Message encoding
	invertSdir        bool
	queueStepTag      int32
	setNextStepDirTag int32

	// Clock conversion
	mcuFreq       float64
	mcuTimeOffset float64

	// Pending step clocks (absolute), not yet compressed
	queue *[]uint64

	// State of the emitted step stream
	lastStepClock uint64
	sdir          int // -1 until first direction command

	msgs    [][]byte
	onFlush FlushFunc

	logger *log.Logger
}

// New creates a step queue for the stepper with the given oid.
func New(oid uint8) *StepCompress {
	return &StepCompress{
		oid:    oid,
		queue:  pool.GetClockSlice(),
		sdir:   -1,
		logger: log.New("stepcompress"),
	}
}

// Free releases pooled buffers. The queue must not be used afterwards.
func (sc *StepCompress) Free() {
	if sc.queue != nil {
		pool.PutClockSlice(sc.queue)
		sc.queue = nil
	}
}

// Fill configures the error window, step direction polarity, and the
// command tags used when encoding flushed chunks.
func (sc *StepCompress) Fill(maxError uint32, invertSdir bool, queueStepTag, setNextStepDirTag int32) {
	sc.maxError = maxError
	sc.invertSdir = invertSdir
	sc.queueStepTag = queueStepTag
	sc.setNextStepDirTag = setNextStepDirTag
}

// SetTime anchors the conversion from print time to MCU clock ticks.
func (sc *StepCompress) SetTime(timeOffset, mcuFreq float64) {
	sc.mcuTimeOffset = timeOffset
	sc.mcuFreq = mcuFreq
}

// GetMCUFreq returns the MCU clock rate in ticks per second.
func (sc *StepCompress) GetMCUFreq() float64 {
	return sc.mcuFreq
}

// GetStepDir returns the last commanded step direction as a boolean,
// treating the initial unknown state as reverse.
func (sc *StepCompress) GetStepDir() bool {
	return sc.sdir == 1
}

// StepDir returns the raw direction state: -1 before any direction
// command has been issued, otherwise 0 (reverse) or 1 (forward). The
// unknown state never compares equal to a computed direction, so the
// first move always issues an explicit direction command.
func (sc *StepCompress) StepDir() int {
	return sc.sdir
}

// Oid returns the stepper's object id.
func (sc *StepCompress) Oid() uint8 {
	return sc.oid
}

// SetFlushCallback registers an observer for compressed chunks.
func (sc *StepCompress) SetFlushCallback(fn FlushFunc) {
	sc.onFlush = fn
}

// PullMsgs drains and returns the encoded command payloads produced by
// flushing, in emission order.
func (sc *StepCompress) PullMsgs() [][]byte {
	msgs := sc.msgs
	sc.msgs = nil
	return msgs
}

// LastStepClock returns the clock of the last flushed step.
func (sc *StepCompress) LastStepClock() uint64 {
	return sc.lastStepClock
}

// PendingSteps returns the number of appended but not yet flushed steps.
func (sc *StepCompress) PendingSteps() int {
	return len(*sc.queue)
}

// appendClock adds one absolute step clock to the pending queue.
func (sc *StepCompress) appendClock(clock float64) error {
	q := *sc.queue
	var last uint64
	if len(q) > 0 {
		last = q[len(q)-1]
	} else {
		last = sc.lastStepClock
	}
	if clock < 0 {
		return errors.QueueClockError(int(sc.oid), 0, last)
	}
	c := uint64(clock)
	if c <= last {
		return errors.QueueClockError(int(sc.oid), c, last)
	}
	if c-sc.lastStepClock >= clockDiffMax {
		// Compress what is pending to advance last_step_clock, then
		// re-check the window.
		if err := sc.Flush(c); err != nil {
			return err
		}
		if c-sc.lastStepClock >= clockDiffMax {
			return errors.QueueOverflowError(int(sc.oid), c, sc.lastStepClock)
		}
	}
	*sc.queue = append(*sc.queue, c)
	return nil
}

// SetNextStepDir tags the next queued step with a direction change. Any
// pending steps are compressed first so the command lands between them
// and the steps that follow.
func (sc *StepCompress) SetNextStepDir(dir bool) error {
	sdir := 0
	if dir {
		sdir = 1
	}
	if sdir == sc.sdir {
		return nil
	}
	if err := sc.Flush(math.MaxUint64); err != nil {
		return err
	}
	sc.sdir = sdir
	wireDir := dir != sc.invertSdir

	buf := pool.GetByteBuffer()
	defer pool.PutByteBuffer(buf)
	out := buf.Bytes()
	protocol.EncodeSetNextStepDir(&out, sc.setNextStepDirTag, sc.oid, wireDir)
	sc.msgs = append(sc.msgs, append([]byte(nil), out...))
	return nil
}

// Flush compresses pending steps with clocks at or before moveClock into
// queue_step chunks.
func (sc *StepCompress) Flush(moveClock uint64) error {
	for len(*sc.queue) > 0 && sc.lastStepClock < moveClock {
		move := sc.compressBisectAdd()
		if err := sc.checkLine(move); err != nil {
			return err
		}

		buf := pool.GetByteBuffer()
		out := buf.Bytes()
		protocol.EncodeQueueStep(&out, sc.queueStepTag, sc.oid, move.Interval, move.Count, move.Add)
		sc.msgs = append(sc.msgs, append([]byte(nil), out...))
		pool.PutByteBuffer(buf)

		firstClock := sc.lastStepClock
		sc.lastStepClock += move.Clocks()
		q := *sc.queue
		rem := copy(q, q[move.Count:])
		*sc.queue = q[:rem]

		if sc.onFlush != nil {
			sc.onFlush(sc.oid, firstClock, move, sc.GetStepDir())
		}
		sc.logger.WithFields(log.Fields{
			"oid":      sc.oid,
			"interval": move.Interval,
			"count":    move.Count,
			"add":      move.Add,
		}).Debug("flushed step chunk")
	}
	return nil
}

// QueueAppend is a batched append transaction bound to one stepper's
// queue and one move's start time.
type QueueAppend struct {
	sc          *StepCompress
	clockOffset float64
	finished    bool
}

// NewQueueAppend opens an append session anchored at the given absolute
// print time. adjust shifts each appended clock by a fraction of a tick
// to control rounding.
func NewQueueAppend(sc *StepCompress, printTime, adjust float64) *QueueAppend {
	printClock := (printTime - sc.mcuTimeOffset) * sc.mcuFreq
	return &QueueAppend{
		sc:          sc,
		clockOffset: printClock + adjust,
	}
}

// Append adds one step at the given clock, expressed in ticks relative
// to the session's start time.
func (qa *QueueAppend) Append(stepClock float64) error {
	return qa.sc.appendClock(qa.clockOffset + stepClock)
}

// SetNextStepDir tags the next appended step with a direction change.
func (qa *QueueAppend) SetNextStepDir(dir bool) error {
	return qa.sc.SetNextStepDir(dir)
}

// Finish closes the session. It must be called exactly once per session
// on the success path, even if no steps were appended.
func (qa *QueueAppend) Finish() {
	qa.finished = true
}

// Finished reports whether the session has been closed.
func (qa *QueueAppend) Finished() bool {
	return qa.finished
}
