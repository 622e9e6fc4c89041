// Package config reads the stepper configuration file. The format is an
// INI-style file with one [mcu] section and any number of [stepper NAME]
// sections:
//
//	[mcu]
//	freq: 16000000
//	serial: /dev/ttyUSB0
//	baud: 250000
//
//	[stepper a]
//	kinematics: corexy_plus
//	step_distance: 0.0125
//	oid: 0
//	invert_dir: false
package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// MCUConfig describes the target MCU.
type MCUConfig struct {
	Freq   float64
	Serial string
	Baud   int
}

// StepperConfig describes one stepper's step generation parameters.
type StepperConfig struct {
	Name         string
	Kinematics   string
	StepDistance float64
	Oid          uint8
	InvertDir    bool
	MaxError     float64 // Step timing error window in seconds
}

// Config is a parsed stepper configuration file.
type Config struct {
	MCU      MCUConfig
	Steppers []StepperConfig
}

// section is a raw parsed section before validation.
type section struct {
	name    string
	options map[string]string
	line    int
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	sections, err := parseFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		MCU: MCUConfig{Freq: 16000000., Baud: 250000},
	}
	for _, s := range sections {
		switch {
		case s.name == "mcu":
			if err := cfg.parseMCU(s); err != nil {
				return nil, err
			}
		case strings.HasPrefix(s.name, "stepper "):
			stepper, err := parseStepper(s)
			if err != nil {
				return nil, err
			}
			cfg.Steppers = append(cfg.Steppers, stepper)
		default:
			return nil, fmt.Errorf("config: unknown section [%s] at line %d", s.name, s.line)
		}
	}
	if len(cfg.Steppers) == 0 {
		return nil, fmt.Errorf("config: no [stepper NAME] sections in %s", path)
	}
	return cfg, nil
}

func (c *Config) parseMCU(s section) error {
	var err error
	if v, ok := s.options["freq"]; ok {
		if c.MCU.Freq, err = strconv.ParseFloat(v, 64); err != nil || c.MCU.Freq <= 0 {
			return fmt.Errorf("config: [mcu] freq %q invalid", v)
		}
	}
	if v, ok := s.options["serial"]; ok {
		c.MCU.Serial = v
	}
	if v, ok := s.options["baud"]; ok {
		if c.MCU.Baud, err = strconv.Atoi(v); err != nil || c.MCU.Baud <= 0 {
			return fmt.Errorf("config: [mcu] baud %q invalid", v)
		}
	}
	return nil
}

func parseStepper(s section) (StepperConfig, error) {
	stepper := StepperConfig{
		Name:     strings.TrimSpace(strings.TrimPrefix(s.name, "stepper ")),
		MaxError: 0.000025,
	}
	if stepper.Name == "" {
		return stepper, fmt.Errorf("config: stepper section at line %d has no name", s.line)
	}

	v, ok := s.options["kinematics"]
	if !ok {
		return stepper, fmt.Errorf("config: [stepper %s] missing kinematics", stepper.Name)
	}
	stepper.Kinematics = v

	v, ok = s.options["step_distance"]
	if !ok {
		return stepper, fmt.Errorf("config: [stepper %s] missing step_distance", stepper.Name)
	}
	sd, err := strconv.ParseFloat(v, 64)
	if err != nil || sd <= 0 {
		return stepper, fmt.Errorf("config: [stepper %s] step_distance %q invalid", stepper.Name, v)
	}
	stepper.StepDistance = sd

	if v, ok := s.options["oid"]; ok {
		oid, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			return stepper, fmt.Errorf("config: [stepper %s] oid %q invalid", stepper.Name, v)
		}
		stepper.Oid = uint8(oid)
	}
	if v, ok := s.options["invert_dir"]; ok {
		inv, err := strconv.ParseBool(v)
		if err != nil {
			return stepper, fmt.Errorf("config: [stepper %s] invert_dir %q invalid", stepper.Name, v)
		}
		stepper.InvertDir = inv
	}
	if v, ok := s.options["max_error"]; ok {
		me, err := strconv.ParseFloat(v, 64)
		if err != nil || me < 0 {
			return stepper, fmt.Errorf("config: [stepper %s] max_error %q invalid", stepper.Name, v)
		}
		stepper.MaxError = me
	}
	return stepper, nil
}

// parseFile reads the INI structure: [section] headers followed by
// "key: value" (or "key = value") options. '#' starts a comment.
func parseFile(path string) ([]section, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: unable to open %s: %w", path, err)
	}
	defer f.Close()

	var sections []section
	var current *section

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = strings.TrimSpace(line[:idx])
		}
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			name := strings.TrimSpace(line[1 : len(line)-1])
			if name == "" {
				return nil, fmt.Errorf("config: empty section header at line %d", lineNum)
			}
			sections = append(sections, section{
				name:    name,
				options: make(map[string]string),
				line:    lineNum,
			})
			current = &sections[len(sections)-1]
			continue
		}

		sep := strings.IndexAny(line, ":=")
		if sep < 0 {
			return nil, fmt.Errorf("config: malformed line %d: %q", lineNum, line)
		}
		if current == nil {
			return nil, fmt.Errorf("config: option outside any section at line %d", lineNum)
		}
		key := strings.ToLower(strings.TrimSpace(line[:sep]))
		value := strings.TrimSpace(line[sep+1:])
		if _, dup := current.options[key]; dup {
			return nil, fmt.Errorf("config: duplicate option %q in [%s]", key, current.name)
		}
		current.options[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	return sections, nil
}
