package itersolve

import (
	"math"
	"testing"

	"klipper-stepgen/pkg/kinematics"
	"klipper-stepgen/pkg/motion"
	"klipper-stepgen/pkg/protocol"
	"klipper-stepgen/pkg/stepcompress"
)

// oracleFunc adapts a plain function to the kinematics interface.
type oracleFunc func(m *motion.Move, moveTime float64) float64

func (f oracleFunc) CalcPosition(m *motion.Move, moveTime float64) float64 {
	return f(m, moveTime)
}

// stepEvent is one expanded step from the compressed queue.
type stepEvent struct {
	clock uint64
	dir   bool
}

type testQueue struct {
	sc    *stepcompress.StepCompress
	steps []stepEvent
	dirs  int
}

// newTestQueue builds a queue that records every flushed step.
func newTestQueue(mcuFreq float64) *testQueue {
	tq := &testQueue{sc: stepcompress.New(1)}
	tq.sc.Fill(0, false, protocol.DefaultQueueStepTag, protocol.DefaultSetNextStepDirTag)
	tq.sc.SetTime(0., mcuFreq)
	tq.sc.SetFlushCallback(func(oid uint8, firstClock uint64, move stepcompress.StepMove, dir bool) {
		clock := firstClock
		interval := int64(move.Interval)
		for i := 0; i < int(move.Count); i++ {
			clock += uint64(interval)
			tq.steps = append(tq.steps, stepEvent{clock: clock, dir: dir})
			interval += int64(move.Add)
		}
	})
	return tq
}

// drain flushes the queue and returns the recorded steps.
func (tq *testQueue) drain(t *testing.T) []stepEvent {
	t.Helper()
	if err := tq.sc.Flush(math.MaxUint64); err != nil {
		t.Fatalf("flush: %v", err)
	}
	for _, msg := range tq.sc.PullMsgs() {
		tag, _ := protocol.DecodeUint32(msg, 0)
		if tag == protocol.DefaultSetNextStepDirTag {
			tq.dirs++
		}
	}
	return tq.steps
}

// rampOracle is position(t) = 10*t, ignoring the move coefficients.
func rampOracle(m *motion.Move, moveTime float64) float64 {
	return 10. * moveTime
}

func TestConstantVelocityScenario(t *testing.T) {
	// 1s move at 10 mm/s, step_dist 0.1: steps at 0.005, 0.015, ... 0.995
	tq := newTestQueue(1000000.)
	sk := New(oracleFunc(rampOracle))
	sk.SetStepCompress(tq.sc, 0.1)

	m := motion.NewMove(0., 0., 1., 0., motion.Coord{}, motion.Coord{X: 10.}, 0., 10., 0.)
	if err := sk.GenSteps(m); err != nil {
		t.Fatalf("GenSteps: %v", err)
	}

	steps := tq.drain(t)
	if len(steps) != 100 {
		t.Fatalf("generated %d steps, want 100", len(steps))
	}
	for i, s := range steps {
		want := uint64(5000 + 10000*i)
		if s.clock != want {
			t.Errorf("step %d at clock %d, want %d", i, s.clock, want)
		}
		if !s.dir {
			t.Errorf("step %d not in forward direction", i)
		}
	}
	if tq.dirs != 1 {
		t.Errorf("expected 1 direction command (initial forward), got %d", tq.dirs)
	}
	if got := sk.GetCommandedPos(); math.Abs(got-10.0) > 1e-9 {
		t.Errorf("commanded position = %f, want 10.0", got)
	}
}

func TestStepTimesStrictlyIncreasing(t *testing.T) {
	// Triangle trajectory with a reversal at the apex
	tri := func(m *motion.Move, moveTime float64) float64 {
		if moveTime < 0.5 {
			return 10. * moveTime
		}
		return 10. * (1. - moveTime)
	}
	tq := newTestQueue(1000000.)
	sk := New(oracleFunc(tri))
	sk.SetStepCompress(tq.sc, 0.1)

	m := motion.NewMove(0., 0., 1., 0., motion.Coord{}, motion.Coord{X: 10.}, 0., 10., 0.)
	if err := sk.GenSteps(m); err != nil {
		t.Fatalf("GenSteps: %v", err)
	}

	steps := tq.drain(t)
	if len(steps) != 100 {
		t.Fatalf("generated %d steps, want 50 forward + 50 reverse", len(steps))
	}
	for i := 1; i < len(steps); i++ {
		if steps[i].clock <= steps[i-1].clock {
			t.Fatalf("step %d clock %d not after %d", i, steps[i].clock, steps[i-1].clock)
		}
	}
	if tq.dirs != 2 {
		t.Errorf("expected 2 direction commands (forward, then reverse), got %d", tq.dirs)
	}
	forward := 0
	for _, s := range steps {
		if s.dir {
			forward++
		}
	}
	if forward != 50 {
		t.Errorf("forward steps = %d, want 50", forward)
	}
	if got := sk.GetCommandedPos(); math.Abs(got) > 1e-9 {
		t.Errorf("commanded position = %f, want 0.0", got)
	}
}

func TestHysteresisSuppressesJitter(t *testing.T) {
	// Oscillation smaller than half a step: no steps, no direction change
	osc := func(m *motion.Move, moveTime float64) float64 {
		return 0.04 * math.Sin(200.*moveTime)
	}
	tq := newTestQueue(1000000.)
	sk := New(oracleFunc(osc))
	sk.SetStepCompress(tq.sc, 0.1)
	sk.SetCommandedPos(0.)

	m := motion.NewMove(0., 0., 1., 0., motion.Coord{}, motion.Coord{X: 1.}, 0., 1., 0.)
	if err := sk.GenSteps(m); err != nil {
		t.Fatalf("GenSteps: %v", err)
	}

	steps := tq.drain(t)
	if len(steps) != 0 {
		t.Errorf("oscillation below half step produced %d steps", len(steps))
	}
	if tq.dirs != 0 {
		t.Errorf("oscillation below half step produced %d direction commands", tq.dirs)
	}
	if got := sk.GetCommandedPos(); got != 0. {
		t.Errorf("commanded position changed to %f", got)
	}
}

func TestReconstructionDeltaKinematics(t *testing.T) {
	// Real delta tower oracle over a real XY move: replaying the emitted
	// steps must land within half a step of the oracle's final position.
	dk, err := kinematics.NewDeltaKinematics(100., 0., 250.)
	if err != nil {
		t.Fatal(err)
	}
	const stepDist = 0.0125

	m := motion.NewMove(0., 0.2, 0.6, 0.2,
		motion.Coord{X: 20., Y: -30., Z: 5.}, motion.Coord{X: -40., Y: 60.},
		0., 80., 400.)

	tq := newTestQueue(16000000.)
	sk := New(dk)
	sk.SetStepCompress(tq.sc, stepDist)
	startPos := dk.CalcPosition(m, 0.)
	sk.SetCommandedPos(startPos)

	if err := sk.GenSteps(m); err != nil {
		t.Fatalf("GenSteps: %v", err)
	}

	steps := tq.drain(t)
	if len(steps) == 0 {
		t.Fatal("no steps generated")
	}
	recon := startPos
	for _, s := range steps {
		if s.dir {
			recon += stepDist
		} else {
			recon -= stepDist
		}
	}
	final := dk.CalcPosition(m, m.MoveT)
	if math.Abs(recon-final) > stepDist {
		t.Errorf("reconstructed position %f, oracle final %f (diff %f)",
			recon, final, math.Abs(recon-final))
	}
	if math.Abs(sk.GetCommandedPos()-final) > stepDist {
		t.Errorf("commanded position %f, oracle final %f", sk.GetCommandedPos(), final)
	}
}

func TestConsecutiveMovesKeepDirection(t *testing.T) {
	ck, err := kinematics.NewCartesianKinematics('x')
	if err != nil {
		t.Fatal(err)
	}
	tq := newTestQueue(1000000.)
	sk := New(ck)
	sk.SetStepCompress(tq.sc, 0.1)

	m1 := motion.NewMove(0., 0., 1., 0., motion.Coord{}, motion.Coord{X: 10.}, 0., 10., 0.)
	m2 := motion.NewMove(1., 0., 1., 0., motion.Coord{X: 10.}, motion.Coord{X: 10.}, 0., 10., 0.)

	if err := sk.GenSteps(m1); err != nil {
		t.Fatalf("GenSteps move 1: %v", err)
	}
	if err := sk.GenSteps(m2); err != nil {
		t.Fatalf("GenSteps move 2: %v", err)
	}

	steps := tq.drain(t)
	if len(steps) != 200 {
		t.Fatalf("generated %d steps, want 200", len(steps))
	}
	for i := 1; i < len(steps); i++ {
		if steps[i].clock <= steps[i-1].clock {
			t.Fatalf("step %d clock %d not after %d", i, steps[i].clock, steps[i-1].clock)
		}
	}
	if tq.dirs != 1 {
		t.Errorf("second forward move should not re-issue direction, got %d commands", tq.dirs)
	}
	if got := sk.GetCommandedPos(); math.Abs(got-20.0) > 1e-9 {
		t.Errorf("commanded position = %f, want 20.0", got)
	}
}

func TestQueueFailureLeavesStateUntouched(t *testing.T) {
	// An absurd MCU frequency pushes the first step clock past the
	// scheduling window, failing the append.
	tq := newTestQueue(1e13)
	sk := New(oracleFunc(rampOracle))
	sk.SetStepCompress(tq.sc, 0.1)
	sk.SetCommandedPos(0.)

	m := motion.NewMove(0., 0., 1., 0., motion.Coord{}, motion.Coord{X: 10.}, 0., 10., 0.)
	err := sk.GenSteps(m)
	if err == nil {
		t.Fatal("expected queue failure")
	}
	if got := sk.GetCommandedPos(); got != 0. {
		t.Errorf("commanded position changed to %f on failure", got)
	}
}

func TestZeroStepMoveStillFinishes(t *testing.T) {
	still := func(m *motion.Move, moveTime float64) float64 { return 3.5 }
	tq := newTestQueue(1000000.)
	sk := New(oracleFunc(still))
	sk.SetStepCompress(tq.sc, 0.1)
	sk.SetCommandedPos(3.5)

	called := false
	sk.SetPostCallback(func(sk *StepperKinematics) { called = true })

	m := motion.NewMove(0., 0., 1., 0., motion.Coord{}, motion.Coord{X: 1.}, 0., 1., 0.)
	if err := sk.GenSteps(m); err != nil {
		t.Fatalf("GenSteps: %v", err)
	}
	if steps := tq.drain(t); len(steps) != 0 {
		t.Errorf("stationary move produced %d steps", len(steps))
	}
	if !called {
		t.Error("post callback not invoked on zero-step success")
	}
	if got := sk.GetCommandedPos(); got != 3.5 {
		t.Errorf("commanded position = %f, want 3.5", got)
	}
}

func TestCalcPositionFromCoord(t *testing.T) {
	ck, err := kinematics.NewCartesianKinematics('y')
	if err != nil {
		t.Fatal(err)
	}
	sk := New(ck)
	if got := sk.CalcPositionFromCoord(1., 2., 3.); math.Abs(got-2.0) > 1e-12 {
		t.Errorf("CalcPositionFromCoord = %f, want 2.0", got)
	}
}

func TestFindStepPerfectGuess(t *testing.T) {
	// The high sample exactly at the target short-circuits the search
	calls := 0
	counting := func(m *motion.Move, moveTime float64) float64 {
		calls++
		return 10. * moveTime
	}
	sk := New(oracleFunc(counting))

	got := sk.findStep(nil, timePos{0., 0.}, timePos{0.5, 5.}, 5.)
	if got.time != 0.5 || got.position != 5. {
		t.Errorf("findStep = %+v, want {0.5 5}", got)
	}
	if calls != 0 {
		t.Errorf("perfect guess made %d oracle calls, want 0", calls)
	}
}

func TestFindStepUnbracketedFallback(t *testing.T) {
	// Both samples on the same side of the target: fall back to the low
	// sample's time paired with the target position.
	sk := New(oracleFunc(rampOracle))
	got := sk.findStep(nil, timePos{0.1, 1.}, timePos{0.2, 2.}, 5.)
	if got.time != 0.1 || got.position != 5. {
		t.Errorf("fallback = %+v, want {0.1 5}", got)
	}
}

func TestFindStepConvergence(t *testing.T) {
	m := motion.NewMove(0., 0., 1., 0., motion.Coord{}, motion.Coord{X: 10.}, 0., 10., 0.)
	ck, _ := kinematics.NewCartesianKinematics('x')
	sk := New(ck)

	low := timePos{0.3, ck.CalcPosition(m, 0.3)}
	high := timePos{0.6, ck.CalcPosition(m, 0.6)}
	got := sk.findStep(m, low, high, 4.5)
	if math.Abs(got.time-0.45) > 1e-9 {
		t.Errorf("crossing time = %.12f, want 0.45", got.time)
	}
	if math.Abs(got.position-4.5) > 1e-6 {
		t.Errorf("crossing position = %f, want 4.5", got.position)
	}
}
