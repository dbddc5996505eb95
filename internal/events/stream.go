// File: internal/events/stream.go
package events

import (
	"fmt"
	"io"
	"sync"

	jsoniter "github.com/json-iterator/go"

	"github.com/formcourier/formcourier/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// StreamWriter encodes events as JSON lines onto a writer. It implements
// schemas.EventSink so it can be attached straight to the bus or used in
// its place.
type StreamWriter struct {
	mu  sync.Mutex
	w   io.Writer
	err error
}

var _ schemas.EventSink = (*StreamWriter)(nil)

// NewStreamWriter creates a JSONL event writer.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{w: w}
}

// Publish writes one event line. After the first write error the writer
// goes quiet and surfaces the error through Err.
func (s *StreamWriter) Publish(ev schemas.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		s.err = fmt.Errorf("failed to encode event %d: %w", ev.Seq, err)
		return
	}
	data = append(data, '\n')
	if _, err := s.w.Write(data); err != nil {
		s.err = fmt.Errorf("failed to write event %d: %w", ev.Seq, err)
	}
}

// Err returns the first error encountered, if any.
func (s *StreamWriter) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
