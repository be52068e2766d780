package bridge

import (
	"bytes"

	"github.com/tidwall/gjson"
)

// Decoder splits raw stream bytes into event frames of the form
// "field: {json}" and yields the JSON object payloads. Partial lines are
// carried over to the next Feed.
type Decoder struct {
	pending []byte
}

// Feed consumes one raw chunk and returns the payloads of every complete line.
func (d *Decoder) Feed(chunk []byte) [][]byte {
	d.pending = append(d.pending, chunk...)
	var out [][]byte
	for {
		i := bytes.IndexByte(d.pending, '\n')
		if i < 0 {
			break
		}
		if p := payload(d.pending[:i]); p != nil {
			out = append(out, p)
		}
		d.pending = d.pending[i+1:]
	}
	if len(d.pending) == 0 {
		d.pending = nil
	}
	return out
}

// Flush decodes a trailing line that never saw a newline.
func (d *Decoder) Flush() [][]byte {
	rest := d.pending
	d.pending = nil
	if p := payload(rest); p != nil {
		return [][]byte{p}
	}
	return nil
}

func payload(line []byte) []byte {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return nil
	}
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return nil
	}
	p := bytes.TrimSpace(line[i+1:])
	if !gjson.ValidBytes(p) || !gjson.ParseBytes(p).IsObject() {
		return nil
	}
	return append([]byte(nil), p...)
}
