package rcon

import "bytes"

// Reassembler turns raw socket reads into complete newline-terminated lines,
// carrying an incomplete trailing fragment over to the next read.
type Reassembler struct {
	partial []byte
}

// Feed consumes one chunk and returns every line it completed, without the
// trailing newline. A line split across any number of chunks comes out
// byte-identical to the same line received in a single chunk.
func (r *Reassembler) Feed(chunk []byte) []string {
	tokens := bytes.Split(chunk, []byte{'\n'})
	r.partial = append(r.partial, tokens[0]...)
	if len(tokens) == 1 {
		return nil
	}

	lines := make([]string, 0, len(tokens)-1)
	lines = append(lines, string(r.partial))
	for _, token := range tokens[1 : len(tokens)-1] {
		lines = append(lines, string(token))
	}

	last := tokens[len(tokens)-1]
	r.partial = append(r.partial[:0], last...)
	return lines
}

// Pending returns the carried-over fragment
func (r *Reassembler) Pending() string {
	return string(r.partial)
}

// Reset drops any carried-over fragment
func (r *Reassembler) Reset() {
	r.partial = r.partial[:0]
}
