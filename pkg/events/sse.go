package events

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Emitter writes run events to an HTTP response as server-sent events,
// flushing after every frame so deltas reach the client immediately.
type Emitter struct {
	w       io.Writer
	flusher http.Flusher
}

// NewEmitter wraps a response writer. Flushing is skipped when the writer
// does not support it.
func NewEmitter(w io.Writer) *Emitter {
	fl, _ := w.(http.Flusher)
	return &Emitter{w: w, flusher: fl}
}

// Emit writes one frame.
func (e *Emitter) Emit(ev RunEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal run event: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("failed to write run event: %w", err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// EmitError terminates the stream after a failure: an error frame carrying
// the message, then done. Returns the first write error.
func (e *Emitter) EmitError(outlineBID, message string) error {
	err := e.Emit(RunEvent{OutlineBID: outlineBID, Type: TypeError, Content: message})
	if doneErr := e.Emit(RunEvent{OutlineBID: outlineBID, Type: TypeDone, Content: ""}); err == nil {
		err = doneErr
	}
	return err
}

// PrepareResponse sets the response headers for an SSE stream.
func PrepareResponse(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}
