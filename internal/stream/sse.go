// Copyright (c) 2025 VibeForge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream manages Server-Sent-Events subscriptions to long-running
// skill invocations: typed event dispatch, pause/resume, and bounded
// automatic reconnection.
package stream

import (
	"bufio"
	"bytes"
	"io"
)

// Event is one Server-Sent Event. Type is empty for bare "data:" lines.
type Event struct {
	Type string
	Data []byte
}

// Reader incrementally parses SSE frames from a byte stream.
type Reader struct {
	scanner *bufio.Reader
}

// NewReader wraps r for SSE parsing.
func NewReader(r io.Reader) *Reader {
	return &Reader{scanner: bufio.NewReader(r)}
}

// Next returns the next event, or io.EOF at end of stream. Multi-line data
// fields are joined with newlines; id:, retry:, and comment lines are
// ignored.
func (r *Reader) Next() (*Event, error) {
	var (
		eventType string
		data      [][]byte
	)

	flush := func() *Event {
		return &Event{Type: eventType, Data: bytes.Join(data, []byte("\n"))}
	}

	for {
		line, err := r.scanner.ReadBytes('\n')
		line = bytes.TrimRight(line, "\r\n")

		// EOF can arrive together with a final unterminated line.
		if err != nil {
			if err == io.EOF {
				if bytes.HasPrefix(line, []byte("data:")) {
					data = append(data, bytes.TrimSpace(line[len("data:"):]))
				}
				if len(data) > 0 {
					return flush(), nil
				}
			}
			return nil, err
		}

		// Blank line terminates the event.
		if len(line) == 0 {
			if len(data) > 0 {
				return flush(), nil
			}
			eventType = ""
			continue
		}

		switch {
		case bytes.HasPrefix(line, []byte("event:")):
			eventType = string(bytes.TrimSpace(line[len("event:"):]))
		case bytes.HasPrefix(line, []byte("data:")):
			data = append(data, bytes.TrimSpace(line[len("data:"):]))
		}
	}
}
