// Package sse streams run events to HTTP callers as Server-Sent Events.
package sse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/soochol/flowchat/internal/flowchat"
	"github.com/soochol/flowchat/internal/xjson"
)

// DoneSentinel is the payload of the last frame of every stream.
const DoneSentinel = "[DONE]"

var ErrStreamingUnsupported = errors.New("streaming not supported")

// Writer is an Emitter writing SSE frames to an HTTP response. Frames are
// serialized by a mutex, so the events of one node keep their order.
// After the caller disconnects every event is dropped; the run goes on.
type Writer struct {
	mu       sync.Mutex
	ctx      context.Context
	w        http.ResponseWriter
	flusher  http.Flusher
	detail   bool
	gone     bool
	finished bool
}

// NewWriter sets the SSE headers on w. ctx is the request context, used to
// detect disconnection. Without detail, frames omit the event line and only
// answer text is sent.
func NewWriter(ctx context.Context, w http.ResponseWriter, detail bool) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, ErrStreamingUnsupported
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return &Writer{ctx: ctx, w: w, flusher: flusher, detail: detail}, nil
}

func (s *Writer) Emit(ev flowchat.StreamEvent) {
	if !s.detail && !textEvent(ev.Event) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.write(ev.Event, ev.Data)
}

// Connected reports whether the caller is still reading.
func (s *Writer) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.gone && s.ctx.Err() == nil
}

// Finish writes the terminal frames exactly once: a stop marker on success
// or an error event on failure, then the [DONE] sentinel.
func (s *Writer) Finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return
	}
	s.finished = true
	if err != nil {
		s.write(flowchat.EventError, map[string]string{"message": err.Error()})
	} else {
		s.write(flowchat.EventAnswer, flowchat.AnswerDelta{FinishReason: "stop"})
	}
	s.writeRaw("", DoneSentinel)
}

func (s *Writer) write(event string, data any) {
	payload, err := xjson.Marshal(data)
	if err != nil {
		slog.Warn("sse: dropping unencodable event", "event", event, "err", err)
		return
	}
	s.writeRaw(event, string(payload))
}

func (s *Writer) writeRaw(event, payload string) {
	if s.gone {
		return
	}
	if s.ctx.Err() != nil {
		s.gone = true
		slog.Debug("sse: caller disconnected, dropping remaining events")
		return
	}
	var frame strings.Builder
	if s.detail && event != "" {
		fmt.Fprintf(&frame, "event: %s\n", event)
	}
	fmt.Fprintf(&frame, "data: %s\n\n", payload)
	if _, err := s.w.Write([]byte(frame.String())); err != nil {
		s.gone = true
		return
	}
	s.flusher.Flush()
}

func textEvent(name string) bool {
	return name == flowchat.EventAnswer || name == flowchat.EventFastAnswer
}

// Collector is the Emitter of non-streaming requests. It keeps the answer
// text and, for detail responses, every event.
type Collector struct {
	mu     sync.Mutex
	text   strings.Builder
	events []flowchat.StreamEvent
}

func (c *Collector) Emit(ev flowchat.StreamEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	if !textEvent(ev.Event) {
		return
	}
	if d, ok := ev.Data.(flowchat.AnswerDelta); ok {
		c.text.WriteString(d.Text)
	}
}

// Text returns the concatenated answer deltas.
func (c *Collector) Text() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.text.String()
}

func (c *Collector) Events() []flowchat.StreamEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]flowchat.StreamEvent, len(c.events))
	copy(out, c.events)
	return out
}
