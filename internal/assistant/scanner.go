package assistant

import (
	"bufio"
	"io"
)

// newStreamScanner builds a line scanner sized for SSE payloads carrying
// whole assistant messages.
func newStreamScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	return scanner
}
