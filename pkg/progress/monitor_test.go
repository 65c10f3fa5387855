package progress

import (
	"errors"
	"io"
	"reflect"
	"testing"
)

// chunkReader returns one chunk per Read call, like a pipe fed by a
// process that flushes each line.
type chunkReader struct {
	chunks []string
	err    error
}

func (c *chunkReader) Read(b []byte) (int, error) {
	if len(c.chunks) == 0 {
		if c.err != nil {
			return 0, c.err
		}
		return 0, io.EOF
	}
	n := copy(b, c.chunks[0])
	c.chunks = c.chunks[1:]
	return n, nil
}

func TestExtract(t *testing.T) {
	tests := []struct {
		chunk string
		want  int
		ok    bool
	}{
		{"10%", 10, true},
		{"no-match", 0, false},
		{"  100%  ", 100, true},
		{"0%", 0, true},
		{"12% ... 37% ... 41%", 41, true},
		{"41% then 250%", 41, true},
		{"250%", 0, false},
		{"%", 0, false},
		{"99999999999999999999%", 0, false},
	}

	for _, tt := range tests {
		got, ok := Extract([]byte(tt.chunk))
		if got != tt.want || ok != tt.ok {
			t.Errorf("Extract(%q) = %d, %v; want %d, %v", tt.chunk, got, ok, tt.want, tt.ok)
		}
	}
}

func TestMonitor_PublishesOnlyMatchingChunks(t *testing.T) {
	var got []int
	m := NewMonitor(func(p int) { got = append(got, p) })

	n, err := m.Consume(&chunkReader{chunks: []string{"10%", "no-match", "55%", "100%"}})
	if err != nil {
		t.Fatalf("Consume failed: %v", err)
	}

	if n != 3 {
		t.Errorf("published %d events, want 3", n)
	}
	if want := []int{10, 55, 100}; !reflect.DeepEqual(got, want) {
		t.Errorf("published %v, want %v", got, want)
	}
}

func TestMonitor_ForwardsRegressions(t *testing.T) {
	var got []int
	m := NewMonitor(func(p int) { got = append(got, p) })

	m.Consume(&chunkReader{chunks: []string{"40%", "40%", "35%", "60%"}})

	if want := []int{40, 40, 35, 60}; !reflect.DeepEqual(got, want) {
		t.Errorf("published %v, want %v", got, want)
	}
}

func TestMonitor_ChunksAreIndependent(t *testing.T) {
	var got []int
	m := NewMonitor(func(p int) { got = append(got, p) })

	// a marker split across two reads is lost
	m.Consume(&chunkReader{chunks: []string{"copied 4", "2% done"}})

	if want := []int{2}; !reflect.DeepEqual(got, want) {
		t.Errorf("published %v, want %v", got, want)
	}
}

func TestMonitor_ReadError(t *testing.T) {
	var got []int
	m := NewMonitor(func(p int) { got = append(got, p) })
	boom := errors.New("pipe closed")

	n, err := m.Consume(&chunkReader{chunks: []string{"5%"}, err: boom})
	if !errors.Is(err, boom) {
		t.Errorf("expected read error, got %v", err)
	}
	if n != 1 || len(got) != 1 {
		t.Errorf("events before the error should still be published, got %v", got)
	}
}
