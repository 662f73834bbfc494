// ABOUTME: Server-Sent Events framing for the build event stream.
// ABOUTME: FrameReader turns a text/event-stream body into discrete frames, tolerating CR, LF, and CRLF endings.
package stream

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// Frame is one dispatched SSE frame. Only the fields the build stream uses
// are kept: the backend sends bare "data:" lines, occasionally with an
// "event:" name and an "id:".
type Frame struct {
	Event string
	Data  string
	ID    string
}

// FrameReader reads SSE frames from an io.Reader.
type FrameReader struct {
	r    *bufio.Reader
	done bool

	event   string
	id      string
	data    strings.Builder
	hasData bool
}

// NewFrameReader wraps r in a FrameReader.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: bufio.NewReaderSize(r, 8192)}
}

// Next returns the next frame. A trailing frame without its terminating
// blank line is still delivered before io.EOF.
func (fr *FrameReader) Next() (Frame, error) {
	if fr.done {
		return Frame{}, io.EOF
	}
	for {
		line, err := fr.readLine()
		if errors.Is(err, io.EOF) {
			fr.done = true
			if fr.hasData {
				return fr.dispatch(), nil
			}
			return Frame{}, io.EOF
		}
		if err != nil {
			return Frame{}, err
		}

		switch {
		case line == "":
			if fr.hasData {
				return fr.dispatch(), nil
			}
		case line[0] == ':':
			// comment / keepalive padding
		default:
			fr.field(line)
		}
	}
}

func (fr *FrameReader) field(line string) {
	name, value, found := strings.Cut(line, ":")
	if found {
		value = strings.TrimPrefix(value, " ")
	}
	switch name {
	case "event":
		fr.event = value
	case "id":
		fr.id = value
	case "data":
		if fr.hasData {
			fr.data.WriteByte('\n')
		}
		fr.data.WriteString(value)
		fr.hasData = true
	}
}

func (fr *FrameReader) dispatch() Frame {
	f := Frame{Event: fr.event, Data: fr.data.String(), ID: fr.id}
	if f.Event == "" {
		f.Event = "message"
	}
	fr.event, fr.id = "", ""
	fr.data.Reset()
	fr.hasData = false
	return f
}

// readLine returns one line without its terminator. A lone CR counts as a
// line ending, which bufio.Scanner does not handle.
func (fr *FrameReader) readLine() (string, error) {
	var sb strings.Builder
	for {
		b, err := fr.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && sb.Len() > 0 {
				return sb.String(), nil
			}
			return "", err
		}
		switch b {
		case '\n':
			return sb.String(), nil
		case '\r':
			if next, err := fr.r.ReadByte(); err == nil && next != '\n' {
				_ = fr.r.UnreadByte()
			}
			return sb.String(), nil
		default:
			sb.WriteByte(b)
		}
	}
}
