// Package progress extracts percentage milestones from an image writer's
// output stream.
//
// Extraction is best effort. Each chunk read from the stream is matched on
// its own, nothing is buffered across chunks, and values are forwarded in
// the order seen even if the writer repeats or regresses them.
package progress

import (
	"errors"
	"io"
	"log/slog"
	"regexp"
	"strconv"
)

const defaultChunkSize = 32 * 1024

var percentPattern = regexp.MustCompile(`(\d+)%`)

// Extract returns the most recent percentage in chunk, the last "N%" marker
// with 0 <= N <= 100.
func Extract(chunk []byte) (int, bool) {
	matches := percentPattern.FindAllSubmatch(chunk, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		n, err := strconv.Atoi(string(matches[i][1]))
		if err != nil || n > 100 {
			continue
		}
		return n, true
	}
	return 0, false
}

// Monitor reads a progress stream and publishes one milestone per matching chunk.
type Monitor struct {
	publish   func(percent int)
	chunkSize int
}

// NewMonitor creates a monitor. publish must not block.
func NewMonitor(publish func(percent int)) *Monitor {
	return &Monitor{publish: publish, chunkSize: defaultChunkSize}
}

// Consume reads r until EOF and returns the number of milestones published.
// A read error ends consumption; the stream's producer decides the outcome
// of the write, not the monitor.
func (m *Monitor) Consume(r io.Reader) (int, error) {
	buf := make([]byte, m.chunkSize)
	published := 0

	for {
		n, err := r.Read(buf)
		if n > 0 {
			if pct, ok := Extract(buf[:n]); ok {
				m.publish(pct)
				published++
			}
		}
		if errors.Is(err, io.EOF) {
			return published, nil
		}
		if err != nil {
			slog.Warn("progress_stream_read_failed", "error", err, "published", published)
			return published, err
		}
	}
}
