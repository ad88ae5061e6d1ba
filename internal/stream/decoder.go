// Package stream decodes streaming HTTP response bodies into discrete JSON events.
//
// Two framings are supported: server-sent events ("data: {...}" lines ending
// with a "[DONE]" sentinel) and newline-delimited JSON where the last object
// carries a done flag.
package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// Mode selects the wire framing of a stream.
type Mode int

const (
	// EventStream is text/event-stream framing.
	EventStream Mode = iota
	// LineDelimited is one JSON object per line.
	LineDelimited
)

func (m Mode) String() string {
	switch m {
	case EventStream:
		return "event-stream"
	case LineDelimited:
		return "line-delimited-json"
	default:
		return "unknown"
	}
}

// DoneSentinel terminates an event stream. It is never yielded.
const DoneSentinel = "[DONE]"

var dataPrefix = []byte("data:")

// Option configures a Decoder.
type Option func(*Decoder)

// WithDone overrides the predicate that ends a line-delimited stream after
// the matching object has been yielded.
func WithDone(done func(json.RawMessage) bool) Option {
	return func(d *Decoder) {
		d.done = done
	}
}

// Decoder is a one-pass, forward-only reader of stream events. Use it like
// bufio.Scanner:
//
//	dec := stream.NewDecoder(resp.Body, stream.EventStream)
//	for dec.Next() {
//		handle(dec.Event())
//	}
//	if err := dec.Err(); err != nil { ... }
//
// Lines are split on raw bytes before any text is interpreted, so a read
// boundary inside a multibyte character or inside a line is carried over to
// the next read.
type Decoder struct {
	r       *bufio.Reader
	mode    Mode
	done    func(json.RawMessage) bool
	event   json.RawMessage
	err     error
	stopped bool
	last    bool // the previous event satisfied done
	skipped int
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader, mode Mode, opts ...Option) *Decoder {
	d := &Decoder{
		r:    bufio.NewReader(r),
		mode: mode,
		done: doneFlag,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Next advances to the next event. It returns false at end of input, after
// the sentinel or done object, or on a read error.
func (d *Decoder) Next() bool {
	d.event = nil
	if d.stopped {
		return false
	}
	if d.last {
		d.stopped = true
		return false
	}

	for {
		line, err := d.r.ReadBytes('\n')
		if len(line) > 0 {
			if ev, ok := d.parse(line); ok {
				d.event = ev
				return true
			}
			if d.stopped {
				return false
			}
		}
		if err != nil {
			d.stopped = true
			if !errors.Is(err, io.EOF) {
				d.err = err
			}
			return false
		}
	}
}

// parse handles a single line. It returns the event when one is produced and
// sets d.stopped when the line terminates the stream.
func (d *Decoder) parse(line []byte) (json.RawMessage, bool) {
	switch d.mode {
	case EventStream:
		line = bytes.TrimRight(line, "\r\n")
		if !bytes.HasPrefix(line, dataPrefix) {
			return nil, false
		}
		payload := bytes.TrimSpace(line[len(dataPrefix):])
		if len(payload) == 0 {
			return nil, false
		}
		if string(payload) == DoneSentinel {
			d.stopped = true
			return nil, false
		}
		return d.accept(payload)

	case LineDelimited:
		payload := bytes.TrimSpace(line)
		if len(payload) == 0 {
			return nil, false
		}
		ev, ok := d.accept(payload)
		if ok && d.done != nil && d.done(ev) {
			d.last = true
		}
		return ev, ok
	}
	return nil, false
}

// accept validates a payload and copies it out of the reader's buffer.
// Truncated or malformed frames are skipped.
func (d *Decoder) accept(payload []byte) (json.RawMessage, bool) {
	if !json.Valid(payload) {
		d.skipped++
		return nil, false
	}
	ev := make(json.RawMessage, len(payload))
	copy(ev, payload)
	return ev, true
}

// Event returns the event produced by the last call to Next.
func (d *Decoder) Event() json.RawMessage {
	return d.event
}

// Err returns the first non-EOF read error.
func (d *Decoder) Err() error {
	return d.err
}

// Skipped reports how many malformed frames were dropped.
func (d *Decoder) Skipped() int {
	return d.skipped
}

func doneFlag(ev json.RawMessage) bool {
	var probe struct {
		Done bool `json:"done"`
	}
	if err := json.Unmarshal(ev, &probe); err != nil {
		return false
	}
	return probe.Done
}
