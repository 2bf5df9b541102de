package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"

	"github.com/tmaxmax/go-sse"
)

type chunk struct {
	text string
	err  error
}

// produce runs seq in its own goroutine and pushes every item into the returned channel, preserving
// order. The goroutine stops after the first error, when seq is exhausted, or when ctx is done, and
// always closes the channel.
func produce(ctx context.Context, seq iter.Seq2[string, error]) <-chan chunk {
	ch := make(chan chunk)
	go func() {
		defer close(ch)
		for text, err := range seq {
			select {
			case ch <- chunk{text: text, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}

type framing int

const (
	framingText framing = iota
	framingSSE
)

func parseFraming(s string) (framing, error) {
	switch s {
	case "", "text":
		return framingText, nil
	case "sse":
		return framingSSE, nil
	default:
		return framingText, fmt.Errorf("unknown stream format %q", s)
	}
}

// SSE event types sent with the sse framing.
var (
	doneSSEType  = sse.Type("done")
	errorSSEType = sse.Type("error")
)

const doneSSEData = "[DONE]"

// streamWriter writes relayed chunks to the client and flushes after every write.
type streamWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	framing framing
}

func newStreamWriter(w http.ResponseWriter, f framing) streamWriter {
	return streamWriter{
		w:       w,
		rc:      http.NewResponseController(w),
		framing: f,
	}
}

func (s streamWriter) start() error {
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	return s.flush()
}

// chunk writes one chunk and returns the number of payload bytes relayed.
func (s streamWriter) chunk(text string) (int, error) {
	switch s.framing {
	case framingSSE:
		msg := &sse.Message{}
		msg.AppendData(text)
		if err := s.send(msg); err != nil {
			return 0, err
		}
	default:
		if _, err := io.WriteString(s.w, text); err != nil {
			return 0, err
		}
		if err := s.flush(); err != nil {
			return 0, err
		}
	}
	return len(text), nil
}

// fail reports a mid-stream failure. The text framing has no way to carry it, so nothing is written.
func (s streamWriter) fail(body string) error {
	if s.framing != framingSSE {
		return nil
	}
	msg := &sse.Message{Type: errorSSEType}
	msg.AppendData(body)
	return s.send(msg)
}

func (s streamWriter) done() error {
	if s.framing != framingSSE {
		return nil
	}
	msg := &sse.Message{Type: doneSSEType}
	msg.AppendData(doneSSEData)
	return s.send(msg)
}

func (s streamWriter) send(msg *sse.Message) error {
	if _, err := msg.WriteTo(s.w); err != nil {
		return err
	}
	return s.flush()
}

func (s streamWriter) flush() error {
	if err := s.rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return err
	}
	return nil
}
