package engine

import (
	"bufio"
	"io"

	"stepflow-monitor/internal/model"
)

// rawLine is one line read from a child's stdout or stderr, before marker
// parsing. A physical line longer than maxLineBytes is split into
// successive rawLines rather than discarding the overflow (spec §4.E step
// 3): each part is preserved in order, and only the first part carries
// truncated=true — the rest of the line still arrives, just as more lines.
type rawLine struct {
	stream    model.LogStream
	content   string
	truncated bool
}

// streamLines reads newline-delimited output from r, enforcing
// maxLineBytes per line, and sends one or more rawLines per physical line
// on out until r is exhausted or closed. It runs on its own goroutine per
// stream so a slow stdout never blocks stderr or vice versa.
func streamLines(r io.Reader, stream model.LogStream, maxLineBytes int, out chan<- rawLine) {
	reader := bufio.NewReaderSize(r, 4096)
	for {
		var buf []byte
		parts := 0
		gotLine := false
		for {
			chunk, isPrefix, err := reader.ReadLine()
			if err != nil {
				if len(buf) > 0 {
					out <- rawLine{stream: stream, content: string(buf), truncated: false}
				}
				return
			}
			gotLine = true
			for len(chunk) > 0 {
				if maxLineBytes > 0 && len(buf) >= maxLineBytes {
					out <- rawLine{stream: stream, content: string(buf), truncated: parts == 0}
					parts++
					buf = buf[:0]
				}
				n := len(chunk)
				if maxLineBytes > 0 {
					if rem := maxLineBytes - len(buf); rem < n {
						n = rem
					}
				}
				buf = append(buf, chunk[:n]...)
				chunk = chunk[n:]
			}
			if !isPrefix {
				break
			}
		}
		if gotLine {
			out <- rawLine{stream: stream, content: string(buf), truncated: false}
		}
	}
}
