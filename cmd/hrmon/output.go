package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/srg/hrmon/client"
	"github.com/srg/hrmon/internal/device"
	"github.com/srg/hrmon/internal/frame"
	"github.com/srg/hrmon/pkg/config"
	"golang.org/x/term"
)

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// palette colours text only when writing to a terminal.
type palette struct {
	bpm, label, warn, dim *color.Color
}

func newPalette(w io.Writer) *palette {
	p := &palette{
		bpm:   color.New(color.FgRed, color.Bold),
		label: color.New(color.FgCyan),
		warn:  color.New(color.FgYellow),
		dim:   color.New(color.Faint),
	}
	enable := isTerminal(w)
	for _, c := range []*color.Color{p.bpm, p.label, p.warn, p.dim} {
		if enable {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// readingRecord is one JSON line of monitor output.
type readingRecord struct {
	Time           string   `json:"time"`
	Peripheral     string   `json:"peripheral"`
	Address        string   `json:"address"`
	Characteristic string   `json:"characteristic"`
	Name           string   `json:"name,omitempty"`
	Source         string   `json:"source"`
	BPM            *uint16  `json:"bpm,omitempty"`
	SensorContact  *bool    `json:"sensor_contact,omitempty"`
	EnergyExpended *uint16  `json:"energy_expended,omitempty"`
	RRIntervals    []uint16 `json:"rr_intervals,omitempty"`
	Text           *string  `json:"text,omitempty"`
	Hex            string   `json:"hex,omitempty"`
}

func newReadingRecord(r client.Reading) readingRecord {
	rec := readingRecord{
		Time:           r.At.UTC().Format(time.RFC3339Nano),
		Peripheral:     r.Peripheral.Name(),
		Address:        r.Peripheral.Address(),
		Characteristic: device.ShortUUID(r.Characteristic),
		Name:           device.KnownName(r.Characteristic),
		Source:         string(r.Source),
	}
	switch m := r.Measurement.(type) {
	case frame.HeartRate:
		bpm := m.BPM
		rec.BPM = &bpm
		rec.SensorContact = m.SensorContact
		rec.EnergyExpended = m.EnergyExpended
		rec.RRIntervals = m.RRIntervals
	case frame.RawText:
		text := string(m)
		rec.Text = &text
	case frame.RawBytes:
		rec.Hex = m.String()
	}
	return rec
}

// readingPrinter writes monitor output. Subscriber callbacks run on the client's
// delivery goroutine, so writes are serialised.
type readingPrinter struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
	format string
	colors *palette
}

func newReadingPrinter(out, errOut io.Writer, format string) *readingPrinter {
	return &readingPrinter{
		out:    out,
		errOut: errOut,
		format: format,
		colors: newPalette(out),
	}
}

func (p *readingPrinter) Reading(r client.Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.format == config.OutputJSON {
		line, err := json.Marshal(newReadingRecord(r))
		if err != nil {
			fmt.Fprintf(p.errOut, "WARN: %v\n", err)
			return
		}
		fmt.Fprintf(p.out, "%s\n", line)
		return
	}

	name := device.KnownName(r.Characteristic)
	if name == "" {
		name = device.ShortUUID(r.Characteristic)
	}

	value := r.Measurement.String()
	if _, ok := r.Measurement.(frame.HeartRate); ok {
		value = p.colors.bpm.Sprint(value)
	}

	fmt.Fprintf(p.out, "%s  %-24s %-12s %s\n",
		p.colors.dim.Sprint(r.At.Format("15:04:05.000")),
		p.colors.label.Sprint(name),
		r.Source,
		value)
}

func (p *readingPrinter) Connected(peripheral device.PeripheralHandle, services []*device.ServiceDescriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()

	chars := len(device.CollectCharacteristics(services, nil))
	fmt.Fprintf(p.errOut, "Connected to %s: %d services, %d characteristics. Press Ctrl+C to stop...\n",
		peripheral, len(services), chars)
}

// Warning reports a per-operation failure that does not end the session.
func (p *readingPrinter) Warning(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.errOut, "%s %v\n", p.colors.warn.Sprint("WARN:"), err)
}
