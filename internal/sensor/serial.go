package sensor

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.bug.st/serial"

	"github.com/stride-data/steps.report/internal/monitoring"
)

// SerialOptions describes the connection parameters for a serial-attached IMU.
// The fields mirror the dev-board firmware defaults so the options can usually
// be left zero and normalized.
type SerialOptions struct {
	Port     string `json:"port"`
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o SerialOptions) Normalize() (SerialOptions, error) {
	opts := o

	if opts.Port == "" {
		return opts, fmt.Errorf("serial port name is required")
	}
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}
	return opts, nil
}

// SerialSource reads acceleration samples from a serial-attached IMU board.
// The firmware emits one CSV line per reading: "x,y,z" or "x,y,z,unix_ms".
// Lines that fail to parse are dropped with a diagnostic; the detector must
// never see a malformed sample.
type SerialSource struct {
	port    serial.Port
	samples chan Sample
}

// NewSerialSource opens the configured serial port.
func NewSerialSource(opts SerialOptions) (*SerialSource, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}

	port, err := serial.Open(opts.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", opts.Port, err)
	}

	return &SerialSource{
		port:    port,
		samples: make(chan Sample, 64),
	}, nil
}

// Samples returns the channel on which parsed readings are delivered.
func (s *SerialSource) Samples() <-chan Sample {
	return s.samples
}

// Run reads from the serial port until the context is cancelled.
func (s *SerialSource) Run(ctx context.Context) error {
	defer s.port.Close()
	defer close(s.samples)

	scan := bufio.NewScanner(s.port)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if !scan.Scan() {
				return scan.Err()
			}
			sample, err := ParseSampleLine(scan.Text(), time.Now())
			if err != nil {
				monitoring.Logf("serial: dropping line: %v", err)
				continue
			}
			select {
			case s.samples <- sample:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// ParseSampleLine parses one firmware CSV line into a Sample. When the line
// carries no timestamp field, fallback is used.
func ParseSampleLine(line string, fallback time.Time) (Sample, error) {
	segments := strings.Split(strings.TrimSpace(line), ",")
	if len(segments) != 3 && len(segments) != 4 {
		return Sample{}, fmt.Errorf("expected 3 or 4 fields, got %d in %q", len(segments), line)
	}

	var axes [3]float64
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(segments[i]), 64)
		if err != nil {
			return Sample{}, fmt.Errorf("failed to parse axis %d: %v", i, err)
		}
		axes[i] = v
	}

	at := fallback
	if len(segments) == 4 {
		ms, err := strconv.ParseInt(strings.TrimSpace(segments[3]), 10, 64)
		if err != nil {
			return Sample{}, fmt.Errorf("failed to parse timestamp: %v", err)
		}
		at = time.UnixMilli(ms)
	}

	return Sample{X: axes[0], Y: axes[1], Z: axes[2], At: at}, nil
}
