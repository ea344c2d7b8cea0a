package openhab

import (
	"bufio"
	"io"
	"strings"
)

// maxEventSize bounds a single server-sent event line.
const maxEventSize = 1 << 20

// readEvents parses a text/event-stream body and calls fn with the joined
// data of each event. It returns when the body ends, fails or fn returns
// false.
func readEvents(r io.Reader, fn func(data string) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if !fn(strings.Join(data, "\n")) {
					return nil
				}
				data = data[:0]
			}
		case strings.HasPrefix(line, ":"):
			// comment / keepalive
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	return scanner.Err()
}
