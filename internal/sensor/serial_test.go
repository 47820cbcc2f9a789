package sensor

import (
	"testing"
	"time"
)

func TestParseSampleLine(t *testing.T) {
	fallback := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("ThreeFields", func(t *testing.T) {
		s, err := ParseSampleLine("0.12,-9.81,0.40", fallback)
		if err != nil {
			t.Fatalf("ParseSampleLine failed: %v", err)
		}
		if s.X != 0.12 || s.Y != -9.81 || s.Z != 0.40 {
			t.Errorf("axes = %v,%v,%v", s.X, s.Y, s.Z)
		}
		if !s.At.Equal(fallback) {
			t.Errorf("At = %v, want fallback %v", s.At, fallback)
		}
	})

	t.Run("FourFieldsWithTimestamp", func(t *testing.T) {
		s, err := ParseSampleLine("1,2,3,1748779200000", fallback)
		if err != nil {
			t.Fatalf("ParseSampleLine failed: %v", err)
		}
		want := time.UnixMilli(1748779200000)
		if !s.At.Equal(want) {
			t.Errorf("At = %v, want %v", s.At, want)
		}
	})

	t.Run("Whitespace", func(t *testing.T) {
		if _, err := ParseSampleLine(" 0.1 , 0.2 , 0.3 ", fallback); err != nil {
			t.Errorf("whitespace line rejected: %v", err)
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		for _, line := range []string{"", "1,2", "a,b,c", "1,2,3,nope", "1,2,3,4,5"} {
			if _, err := ParseSampleLine(line, fallback); err == nil {
				t.Errorf("expected error for %q", line)
			}
		}
	})
}

func TestSerialOptionsNormalize(t *testing.T) {
	opts, err := SerialOptions{Port: "/dev/ttyUSB0"}.Normalize()
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if opts.BaudRate != 115200 || opts.DataBits != 8 || opts.StopBits != 1 {
		t.Errorf("defaults = %+v", opts)
	}

	if _, err := (SerialOptions{}).Normalize(); err == nil {
		t.Error("expected error for missing port")
	}
	if _, err := (SerialOptions{Port: "p", DataBits: 9}).Normalize(); err == nil {
		t.Error("expected error for invalid data bits")
	}
	if _, err := (SerialOptions{Port: "p", StopBits: 3}).Normalize(); err == nil {
		t.Error("expected error for invalid stop bits")
	}
}
