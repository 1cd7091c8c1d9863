package stream

import "bytes"

// Framer reassembles newline-delimited records from arbitrarily chunked
// input. It keeps the unterminated tail of the previous chunk in a carry
// buffer, so a record split across chunk boundaries is emitted exactly once,
// intact, when its terminator arrives.
//
// Records are returned without their terminator; a trailing '\r' (CRLF
// framing) is treated as part of the terminator. Blank lines separate SSE
// events and are not records. A Framer is not safe for concurrent use.
type Framer struct {
	carry []byte
}

// Write appends chunk to the carry buffer and returns every record completed
// by it, in order. The final unterminated fragment stays buffered.
func (f *Framer) Write(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	f.carry = append(f.carry, chunk...)
	var records []string
	rest := f.carry
	for {
		i := bytes.IndexByte(rest, '\n')
		if i < 0 {
			break
		}
		if line := trimCR(rest[:i]); len(bytes.TrimSpace(line)) > 0 {
			records = append(records, string(line))
		}
		rest = rest[i+1:]
	}
	if len(rest) == len(f.carry) {
		return records
	}
	// Copy the tail so the consumed prefix can be collected.
	f.carry = append(f.carry[:0:0], rest...)
	return records
}

// Flush ends the stream. It returns the buffered fragment as a final record
// when it holds more than whitespace, and resets the carry buffer either way.
func (f *Framer) Flush() (string, bool) {
	line := trimCR(f.carry)
	f.carry = nil
	if len(bytes.TrimSpace(line)) == 0 {
		return "", false
	}
	return string(line), true
}

// Buffered returns the number of carried bytes not yet emitted.
func (f *Framer) Buffered() int {
	return len(f.carry)
}

func trimCR(line []byte) []byte {
	if n := len(line); n > 0 && line[n-1] == '\r' {
		return line[:n-1]
	}
	return line
}
