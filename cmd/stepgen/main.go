// stepgen generates stepper step commands for a planned move. It runs
// the kinematic position through the iterative step solver, compresses
// the resulting step times into queue_step chunks, and either prints the
// encoded commands or streams them to an MCU serial port.
//
// Usage:
//
//	stepgen -kinematics cartesian_x -step-dist 0.0125 [options]
//	stepgen -config steppers.cfg [options]
//
// Options:
//
//	-config string      Stepper configuration file (generates for every
//	                    configured stepper; overrides the stepper flags)
//	-kinematics string  Stepper kinematics (cartesian_x/y/z, corexy_plus/minus,
//	                    corexz_plus/minus, extruder)
//	-step-dist float    Distance of one step in mm
//	-start string       Move start position "x,y,z"
//	-dist string        Move displacement "x,y,z"
//	-start-v float      Start velocity (mm/s)
//	-cruise-v float     Cruise velocity (mm/s)
//	-accel float        Acceleration (mm/s^2)
//	-mcu-freq float     MCU clock rate (Hz)
//	-serial string      Stream framed commands to this serial device
//	-monitor string     Serve step updates over WebSocket on this address
//
// Examples:
//
//	# Print the commands for a 100mm X move
//	stepgen -kinematics cartesian_x -step-dist 0.0125 -dist 100,0,0
//
//	# Generate for a configured CoreXY pair, monitored over WebSocket
//	stepgen -config steppers.cfg -dist 50,50,0 -monitor :7130
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/tarm/serial"

	"klipper-stepgen/pkg/config"
	"klipper-stepgen/pkg/itersolve"
	"klipper-stepgen/pkg/kinematics"
	"klipper-stepgen/pkg/log"
	"klipper-stepgen/pkg/motion"
	"klipper-stepgen/pkg/motionreport"
	"klipper-stepgen/pkg/protocol"
	"klipper-stepgen/pkg/stepcompress"
)

func main() {
	configFile := flag.String("config", "", "Stepper configuration file")
	kinName := flag.String("kinematics", "cartesian_x", "Stepper kinematics type")
	stepDist := flag.Float64("step-dist", 0.0125, "Distance of one step in mm")
	invertDir := flag.Bool("invert-dir", false, "Invert the step direction signal")
	oid := flag.Uint("oid", 0, "Stepper object id")

	start := flag.String("start", "0,0,0", "Move start position x,y,z (mm)")
	dist := flag.String("dist", "100,0,0", "Move displacement x,y,z (mm)")
	startV := flag.Float64("start-v", 0., "Start velocity (mm/s)")
	cruiseV := flag.Float64("cruise-v", 100., "Cruise velocity (mm/s)")
	accel := flag.Float64("accel", 3000., "Acceleration (mm/s^2)")

	mcuFreq := flag.Float64("mcu-freq", 16000000., "MCU clock rate (Hz)")
	maxErrorTime := flag.Float64("max-error", 0.000025, "Step timing error window (s)")

	serialDev := flag.String("serial", "", "Serial device to stream commands to")
	baud := flag.Int("baud", 250000, "Serial baud rate")
	monitorAddr := flag.String("monitor", "", "WebSocket motion report address (e.g. :7130)")
	logLevel := flag.String("loglevel", "info", "Log level (debug, info, warn, error)")

	flag.Parse()

	logger := log.New("stepgen")
	logger.SetLevel(log.ParseLevel(*logLevel))

	startPos, err := parseCoord(*start)
	if err != nil {
		fatalf("invalid -start: %v", err)
	}
	axesD, err := parseCoord(*dist)
	if err != nil {
		fatalf("invalid -dist: %v", err)
	}

	// Build the stepper set, from the config file or from flags
	var steppers []config.StepperConfig
	freq := *mcuFreq
	device, baudRate := *serialDev, *baud
	if *configFile != "" {
		cfg, err := config.Load(*configFile)
		if err != nil {
			fatalf("%v", err)
		}
		steppers = cfg.Steppers
		freq = cfg.MCU.Freq
		if device == "" {
			device = cfg.MCU.Serial
		}
		if cfg.MCU.Baud > 0 {
			baudRate = cfg.MCU.Baud
		}
	} else {
		if *stepDist <= 0 {
			fatalf("-step-dist must be positive")
		}
		steppers = []config.StepperConfig{{
			Name:         *kinName,
			Kinematics:   *kinName,
			StepDistance: *stepDist,
			Oid:          uint8(*oid),
			InvertDir:    *invertDir,
			MaxError:     *maxErrorTime,
		}}
	}

	var monitor *motionreport.Server
	if *monitorAddr != "" {
		monitor = motionreport.New(*monitorAddr)
		if err := monitor.Start(); err != nil {
			fatalf("starting monitor: %v", err)
		}
		defer monitor.Stop()
	}

	m := buildMove(startPos, axesD, *startV, *cruiseV, *accel)
	logger.WithFields(log.Fields{
		"steppers":  len(steppers),
		"move_time": m.MoveT,
		"cruise_v":  *cruiseV,
	}).Info("generating steps")

	var msgs [][]byte
	for _, stepper := range steppers {
		out, err := generate(stepper, freq, startPos, m, monitor, logger)
		if err != nil {
			logger.WithError(err).WithField("stepper", stepper.Name).
				Error("step generation failed")
			os.Exit(1)
		}
		msgs = append(msgs, out...)
	}

	if device != "" {
		if err := streamSerial(device, baudRate, msgs); err != nil {
			logger.WithError(err).Error("serial stream failed")
			os.Exit(1)
		}
		return
	}
	for _, msg := range msgs {
		fmt.Printf("%x\n", msg)
	}
}

// generate runs one stepper through the solver for the move and returns
// its encoded commands.
func generate(stepper config.StepperConfig, mcuFreq float64, startPos motion.Coord,
	m *motion.Move, monitor *motionreport.Server, logger *log.Logger) ([][]byte, error) {

	kin, err := kinematics.NewByType(stepper.Kinematics)
	if err != nil {
		return nil, err
	}

	sc := stepcompress.New(stepper.Oid)
	defer sc.Free()
	sc.Fill(uint32(stepper.MaxError*mcuFreq), stepper.InvertDir,
		protocol.DefaultQueueStepTag, protocol.DefaultSetNextStepDirTag)
	sc.SetTime(0., mcuFreq)
	if monitor != nil {
		monitor.Attach(sc)
	}

	sk := itersolve.New(kin)
	sk.SetStepCompress(sc, stepper.StepDistance)
	sk.SetCommandedPos(sk.CalcPositionFromCoord(startPos.X, startPos.Y, startPos.Z))

	if err := sk.GenSteps(m); err != nil {
		return nil, err
	}
	if err := sc.Flush(math.MaxUint64); err != nil {
		return nil, err
	}

	msgs := sc.PullMsgs()
	logger.WithFields(log.Fields{
		"stepper":    stepper.Name,
		"commands":   len(msgs),
		"last_clock": sc.LastStepClock(),
		"final_pos":  sk.GetCommandedPos(),
	}).Info("stepper complete")
	return msgs, nil
}

// parseCoord parses an "x,y,z" triple.
func parseCoord(s string) (motion.Coord, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return motion.Coord{}, fmt.Errorf("want x,y,z, got %q", s)
	}
	var vals [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return motion.Coord{}, err
		}
		vals[i] = v
	}
	return motion.Coord{X: vals[0], Y: vals[1], Z: vals[2]}, nil
}

// buildMove derives the trapezoid phase times from the move distance and
// velocity limits. Short moves that cannot reach cruise velocity become
// triangular (zero cruise time, reduced peak velocity).
func buildMove(startPos, axesD motion.Coord, startV, cruiseV, accel float64) *motion.Move {
	moveD := math.Sqrt(axesD.X*axesD.X + axesD.Y*axesD.Y + axesD.Z*axesD.Z)

	accelD := (cruiseV*cruiseV - startV*startV) / (2. * accel)
	decelD := cruiseV * cruiseV / (2. * accel)
	if accelD+decelD > moveD {
		// Triangular profile
		peak := math.Sqrt((2.*accel*moveD + startV*startV) / 2.)
		cruiseV = peak
		accelD = (cruiseV*cruiseV - startV*startV) / (2. * accel)
		decelD = moveD - accelD
	}
	accelT := (cruiseV - startV) / accel
	decelT := cruiseV / accel
	cruiseT := (moveD - accelD - decelD) / cruiseV
	if cruiseT < 0 {
		cruiseT = 0
	}
	return motion.NewMove(0., accelT, cruiseT, decelT, startPos, axesD, startV, cruiseV, accel)
}

// streamSerial frames each command into an MCU message block and writes
// it to the serial device.
func streamSerial(device string, baud int, msgs [][]byte) error {
	port, err := serial.OpenPort(&serial.Config{Name: device, Baud: baud})
	if err != nil {
		return fmt.Errorf("opening %s: %w", device, err)
	}
	defer port.Close()

	for seq, msg := range msgs {
		block := protocol.EncodeMsgblock(seq, msg)
		if _, err := port.Write(block); err != nil {
			return fmt.Errorf("writing command %d: %w", seq, err)
		}
	}
	return nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
