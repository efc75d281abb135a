package relay

import (
	"bufio"
	"io"
	"strings"
)

// event is one server-sent event.
type event struct {
	Name string
	Data string
}

type eventReader struct {
	r *bufio.Reader
}

func newEventReader(r io.Reader) *eventReader {
	return &eventReader{r: bufio.NewReader(r)}
}

// next returns the following event, or io.EOF once the stream is exhausted.
// Multi-line data fields are joined with newlines.
func (er *eventReader) next() (event, error) {
	var (
		ev   = event{Name: "message"}
		data []string
		seen bool
	)
	for {
		line, err := er.r.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			if err == io.EOF && seen {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			return event{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if seen {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			continue
		}
		if !strings.HasPrefix(line, ":") {
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				ev.Name = value
				seen = true
			case "data":
				data = append(data, value)
				seen = true
			}
		}

		if err == io.EOF {
			if !seen {
				return event{}, io.EOF
			}
			ev.Data = strings.Join(data, "\n")
			return ev, nil
		}
	}
}
