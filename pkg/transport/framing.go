package transport

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// MaxFrameSize bounds a single frame. Anything larger is surfaced as a raw
// frame so the buffer cannot grow without limit on a misbehaving stream.
const MaxFrameSize = 10 * 1024 * 1024

// Frame is one complete unit emitted by the decoder. Raw marks bytes that
// completed a frame boundary but are not valid JSON; they are preserved for
// the audit trail instead of being dropped.
type Frame struct {
	Data []byte
	Raw  bool
}

type framingMode int

const (
	modeLineDelimited framingMode = iota
	modeContentLength
)

const contentLengthHeader = "content-length:"

// Decoder is a streaming frame splitter for one direction of an MCP stdio
// stream. Feed it byte chunks as they arrive; it buffers partial frames
// across reads and emits each complete frame exactly once.
//
// Framing starts newline-delimited. When a Content-Length header block is
// detected the stream switches to legacy header framing and stays there.
// A Decoder is not safe for concurrent use; each stream owns its own.
type Decoder struct {
	buf  bytes.Buffer
	mode framingMode
}

// NewDecoder returns a decoder in newline-delimited mode.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Write feeds bytes into the decoder and returns all frames completed by
// this chunk, in stream order.
func (d *Decoder) Write(p []byte) []Frame {
	d.buf.Write(p)

	var frames []Frame
	for {
		f, ok := d.next()
		if !ok {
			break
		}
		frames = append(frames, f)
	}
	return frames
}

// Flush drains any buffered partial frame as a raw frame. Call on stream
// close so truncated trailing bytes still reach the log.
func (d *Decoder) Flush() []Frame {
	rest := bytes.TrimSpace(d.buf.Bytes())
	d.buf.Reset()
	if len(rest) == 0 {
		return nil
	}
	return []Frame{makeFrame(rest)}
}

// next extracts one complete frame from the buffer, if available.
func (d *Decoder) next() (Frame, bool) {
	if d.buf.Len() == 0 {
		return Frame{}, false
	}

	// Header framing is sticky once detected; otherwise sniff each frame.
	if d.mode == modeContentLength || d.looksLikeHeaderBlock() {
		f, ok, handled := d.nextContentLength()
		if handled {
			return f, ok
		}
	}

	return d.nextLine()
}

// looksLikeHeaderBlock reports whether the buffer starts with a
// Content-Length header (legacy LSP-style framing).
func (d *Decoder) looksLikeHeaderBlock() bool {
	head := d.buf.Bytes()
	if len(head) < len(contentLengthHeader) {
		return false
	}
	return strings.EqualFold(string(head[:len(contentLengthHeader)]), contentLengthHeader)
}

// nextContentLength parses a Content-Length framed message. Returns
// handled=false when the bytes turn out not to be header framing after all,
// in which case the caller falls back to line splitting.
func (d *Decoder) nextContentLength() (frame Frame, ok bool, handled bool) {
	data := d.buf.Bytes()

	// Header block ends at the first blank line.
	headerEnd, sepLen := findBlankLine(data)
	if headerEnd < 0 {
		if d.buf.Len() > MaxFrameSize {
			return d.overflow(), true, true
		}
		// Incomplete header; wait for more bytes.
		return Frame{}, false, true
	}

	length, found := parseContentLength(string(data[:headerEnd]))
	if !found {
		// A blank-line-terminated block without a Content-Length header is
		// not legacy framing; treat the bytes as lines.
		return Frame{}, false, false
	}
	if length < 0 || length > MaxFrameSize {
		return d.overflow(), true, true
	}

	bodyStart := headerEnd + sepLen
	if len(data) < bodyStart+length {
		// Body not fully buffered yet.
		return Frame{}, false, true
	}

	d.mode = modeContentLength
	body := make([]byte, length)
	copy(body, data[bodyStart:bodyStart+length])
	d.buf.Next(bodyStart + length)

	return makeFrame(bytes.TrimSpace(body)), true, true
}

// nextLine extracts one newline-delimited frame.
func (d *Decoder) nextLine() (Frame, bool) {
	data := d.buf.Bytes()
	nl := bytes.IndexByte(data, '\n')
	if nl < 0 {
		if d.buf.Len() > MaxFrameSize {
			return d.overflow(), true
		}
		return Frame{}, false
	}

	line := bytes.TrimRight(data[:nl], "\r")
	line = bytes.TrimSpace(line)
	frame := makeFrame(append([]byte(nil), line...))
	d.buf.Next(nl + 1)

	if len(line) == 0 {
		// Blank line between frames; skip and try again.
		return d.next()
	}
	return frame, true
}

// overflow drains the entire buffer as one raw frame.
func (d *Decoder) overflow() Frame {
	data := append([]byte(nil), d.buf.Bytes()...)
	d.buf.Reset()
	return Frame{Data: data, Raw: true}
}

// makeFrame wraps bytes in a Frame, marking non-JSON payloads raw.
func makeFrame(data []byte) Frame {
	return Frame{Data: data, Raw: !json.Valid(data)}
}

// findBlankLine locates the header/body separator: the index where the
// header block ends and the length of the separator ("\r\n\r\n" or "\n\n").
func findBlankLine(data []byte) (idx, sepLen int) {
	if i := bytes.Index(data, []byte("\r\n\r\n")); i >= 0 {
		return i, 4
	}
	if i := bytes.Index(data, []byte("\n\n")); i >= 0 {
		return i, 2
	}
	return -1, 0
}

// parseContentLength extracts the Content-Length value from a header block.
func parseContentLength(block string) (int, bool) {
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		lower := strings.ToLower(line)
		if !strings.HasPrefix(lower, contentLengthHeader) {
			continue
		}
		v := strings.TrimSpace(line[len(contentLengthHeader):])
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
