// Package journal records every signaling frame of a session to a file so
// that a room can be inspected after the fact.
package journal

import (
	"bufio"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"github.com/BioHazard786/huddle/internal/signaling"
	"github.com/vmihailenco/msgpack/v5"
)

type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

// Entry is one recorded frame. Raw holds the frame exactly as it crossed
// the socket.
type Entry struct {
	At   time.Time `msgpack:"at"`
	Dir  Direction `msgpack:"dir"`
	Kind string    `msgpack:"kind"`
	Raw  []byte    `msgpack:"raw"`
}

// Message decodes the recorded frame.
func (e Entry) Message() (*signaling.Message, error) {
	return signaling.Decode(e.Raw)
}

// Writer appends entries as a stream of msgpack values.
type Writer struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	enc    *msgpack.Encoder
	closer io.Closer
	count  int

	// Now stamps entries; defaults to time.Now.
	Now func() time.Time
}

func NewWriter(w io.Writer) *Writer {
	buf := bufio.NewWriter(w)
	jw := &Writer{buf: buf, enc: msgpack.NewEncoder(buf), Now: time.Now}
	if c, ok := w.(io.Closer); ok {
		jw.closer = c
	}
	return jw
}

// Create truncates or creates path and returns a Writer on it.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, signaling.NewError("create journal", err)
	}
	return NewWriter(f), nil
}

// Record appends one frame and flushes it.
func (w *Writer) Record(dir Direction, kind string, raw []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.enc.Encode(Entry{At: w.Now(), Dir: dir, Kind: kind, Raw: raw}); err != nil {
		return signaling.NewError("write journal", err)
	}
	if err := w.buf.Flush(); err != nil {
		return signaling.NewError("flush journal", err)
	}
	w.count++
	return nil
}

// Count returns how many entries were written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.buf.Flush(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// Reader reads entries back in order.
type Reader struct {
	dec *msgpack.Decoder
}

func NewReader(r io.Reader) *Reader {
	return &Reader{dec: msgpack.NewDecoder(bufio.NewReader(r))}
}

// Next returns the next entry, or io.EOF after the last one.
func (r *Reader) Next() (Entry, error) {
	var e Entry
	if err := r.dec.Decode(&e); err != nil {
		if errors.Is(err, io.EOF) {
			return Entry{}, io.EOF
		}
		return Entry{}, signaling.NewError("read journal", err)
	}
	return e, nil
}

// ReadAll reads every entry from r.
func ReadAll(r io.Reader) ([]Entry, error) {
	jr := NewReader(r)
	var out []Entry
	for {
		e, err := jr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, e)
	}
}

// Load reads the journal stored at path.
func Load(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, signaling.NewError("open journal", err)
	}
	defer f.Close()
	return ReadAll(f)
}

// Summary counts entries per kind and direction.
type Summary struct {
	Kind     string
	Inbound  int
	Outbound int
}

// Summarize groups entries by kind in order of first appearance.
func Summarize(entries []Entry) []Summary {
	index := make(map[string]int)
	var out []Summary
	for _, e := range entries {
		i, ok := index[e.Kind]
		if !ok {
			i = len(out)
			index[e.Kind] = i
			out = append(out, Summary{Kind: e.Kind})
		}
		if e.Dir == Inbound {
			out[i].Inbound++
		} else {
			out[i].Outbound++
		}
	}
	return out
}
