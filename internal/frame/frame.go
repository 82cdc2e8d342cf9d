// Package frame decodes raw characteristic payloads into measurements.
//
// Decoding is pure: no I/O, no retained state and no references to the input slice
// survive a call to Decode.
package frame

import (
	"encoding/binary"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/srg/hrmon/internal/device"
)

// Heart Rate Measurement flag bits (GATT 0x2A37, byte 0).
const (
	flagUint16BPM      byte = 1 << 0
	flagContactDetect  byte = 1 << 1
	flagContactSupport byte = 1 << 2
	flagEnergyExpended byte = 1 << 3
	flagRRIntervals    byte = 1 << 4
)

// Format selects how payloads of characteristics other than heart rate are
// presented.
type Format int

const (
	// FormatHex presents payloads as RawBytes.
	FormatHex Format = iota
	// FormatText presents payloads as RawText when they are valid UTF-8.
	FormatText
)

func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	default:
		return "hex"
	}
}

// Measurement is the decoded value of one payload. It is one of HeartRate,
// RawText or RawBytes.
type Measurement interface {
	String() string
	measurement()
}

// HeartRate is a decoded Heart Rate Measurement. Optional fields are nil when the
// corresponding flag bit is clear.
type HeartRate struct {
	BPM uint16
	// SensorContact is set only when the sensor reports contact detection support.
	SensorContact *bool
	// EnergyExpended is the cumulative energy in kilojoules.
	EnergyExpended *uint16
	// RRIntervals are in units of 1/1024 second, oldest first.
	RRIntervals []uint16
}

func (HeartRate) measurement() {}

func (h HeartRate) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d bpm", h.BPM)
	if h.SensorContact != nil {
		if *h.SensorContact {
			sb.WriteString(", contact")
		} else {
			sb.WriteString(", no contact")
		}
	}
	if h.EnergyExpended != nil {
		fmt.Fprintf(&sb, ", %d kJ", *h.EnergyExpended)
	}
	if len(h.RRIntervals) > 0 {
		parts := make([]string, len(h.RRIntervals))
		for i, rr := range h.RRIntervals {
			parts[i] = fmt.Sprintf("%d", rr)
		}
		fmt.Fprintf(&sb, ", rr=[%s]", strings.Join(parts, " "))
	}
	return sb.String()
}

// RRDurationsMillis converts the RR intervals to milliseconds.
func (h HeartRate) RRDurationsMillis() []float64 {
	out := make([]float64, len(h.RRIntervals))
	for i, rr := range h.RRIntervals {
		out[i] = float64(rr) * 1000 / 1024
	}
	return out
}

// RawText is a payload decoded as UTF-8.
type RawText string

func (RawText) measurement() {}

func (t RawText) String() string { return string(t) }

// RawBytes is an undecoded payload.
type RawBytes []byte

func (RawBytes) measurement() {}

// String renders two uppercase hex digits per byte separated by single spaces,
// e.g. "0A FF 00".
func (b RawBytes) String() string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.Grow(len(b)*3 - 1)
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", v)
	}
	return sb.String()
}

// DecodeError reports a malformed payload.
type DecodeError struct {
	Characteristic uuid.UUID
	Reason         string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %s", device.ShortUUID(e.Characteristic), e.Reason)
}

func (e *DecodeError) Is(target error) bool { return target == device.ErrDecode }

// Decode turns a payload of the given characteristic into a Measurement.
// The heart-rate characteristic always decodes as HeartRate regardless of format.
func Decode(char uuid.UUID, payload []byte, format Format) (Measurement, error) {
	if char == device.HeartRateMeasurement {
		hr, err := DecodeHeartRate(payload)
		if err != nil {
			return nil, err
		}
		return hr, nil
	}

	raw := make([]byte, len(payload))
	copy(raw, payload)

	if format == FormatText && utf8.Valid(raw) {
		return RawText(raw), nil
	}
	return RawBytes(raw), nil
}

// DecodeHeartRate parses a Heart Rate Measurement payload.
func DecodeHeartRate(payload []byte) (HeartRate, error) {
	fail := func(format string, args ...any) (HeartRate, error) {
		return HeartRate{}, &DecodeError{
			Characteristic: device.HeartRateMeasurement,
			Reason:         fmt.Sprintf(format, args...),
		}
	}

	if len(payload) == 0 {
		return fail("empty payload")
	}

	flags := payload[0]
	offset := 1
	var hr HeartRate

	if flags&flagUint16BPM != 0 {
		if len(payload) < offset+2 {
			return fail("truncated 16-bit heart rate: %d bytes", len(payload))
		}
		hr.BPM = binary.LittleEndian.Uint16(payload[offset:])
		offset += 2
	} else {
		if len(payload) < offset+1 {
			return fail("truncated 8-bit heart rate: %d bytes", len(payload))
		}
		hr.BPM = uint16(payload[offset])
		offset++
	}

	if flags&flagContactSupport != 0 {
		contact := flags&flagContactDetect != 0
		hr.SensorContact = &contact
	}

	if flags&flagEnergyExpended != 0 {
		if len(payload) < offset+2 {
			return fail("truncated energy expended at offset %d", offset)
		}
		energy := binary.LittleEndian.Uint16(payload[offset:])
		hr.EnergyExpended = &energy
		offset += 2
	}

	if flags&flagRRIntervals != 0 {
		rest := payload[offset:]
		if len(rest)%2 != 0 {
			return fail("odd RR interval length %d", len(rest))
		}
		hr.RRIntervals = make([]uint16, 0, len(rest)/2)
		for i := 0; i < len(rest); i += 2 {
			hr.RRIntervals = append(hr.RRIntervals, binary.LittleEndian.Uint16(rest[i:]))
		}
	}

	return hr, nil
}
