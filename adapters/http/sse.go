package http

import (
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

// DoneMarker terminates a successful event stream.
const DoneMarker = "[DONE]"

// EventWriter writes server-sent events and flushes after each one.
type EventWriter struct {
	res *echo.Response
}

func NewEventWriter(res *echo.Response) *EventWriter {
	return &EventWriter{res: res}
}

func (w *EventWriter) WriteHeader() {
	h := w.res.Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.res.WriteHeader(http.StatusOK)
	w.res.Flush()
}

// Delta writes one fragment as data: {"delta": "..."}.
func (w *EventWriter) Delta(text string) error {
	b, err := sonic.ConfigStd.Marshal(map[string]string{"delta": text})
	if err != nil {
		return err
	}
	return w.write("", string(b))
}

func (w *EventWriter) Done() error {
	return w.write("", DoneMarker)
}

func (w *EventWriter) Error(msg string) error {
	b, err := sonic.ConfigStd.Marshal(map[string]string{"error": msg})
	if err != nil {
		return err
	}
	return w.write("error", string(b))
}

func (w *EventWriter) write(event, data string) error {
	if event != "" {
		if _, err := fmt.Fprintf(w.res, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w.res, "data: %s\n\n", data); err != nil {
		return err
	}
	w.res.Flush()
	return nil
}
