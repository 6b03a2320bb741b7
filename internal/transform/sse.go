package transform

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// SSEEvent represents a single Server-Sent Event
type SSEEvent struct {
	Event string // Event type (optional, empty if not specified)
	Data  []byte // Concatenated data lines
	ID    string // Event ID (optional)
}

// SSEParser parses Server-Sent Events (SSE) streams
type SSEParser struct {
	reader    *bufio.Reader
	buffer    *bytes.Buffer // Accumulates data for the current event
	eventType string        // Current event type
	eventID   string        // Current event ID
}

// NewSSEParser creates a new SSE parser
func NewSSEParser(reader io.Reader) *SSEParser {
	return &SSEParser{
		reader: bufio.NewReader(reader),
		buffer: &bytes.Buffer{},
	}
}

// NextEvent reads the next SSE event from the stream.
// Returns io.EOF when the stream is complete and io.ErrUnexpectedEOF if it ends mid-event.
func (p *SSEParser) NextEvent() (SSEEvent, error) {
	for {
		line, err := p.reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(line) > 0 {
				// Final line without newline terminator
				p.handleLine(trimEOL(line))
			}
			if p.buffer.Len() > 0 || p.eventType != "" {
				if err == io.EOF {
					return SSEEvent{}, fmt.Errorf("stream ended mid-event: %w", io.ErrUnexpectedEOF)
				}
			}
			return SSEEvent{}, err
		}

		line = trimEOL(line)

		// Empty line marks the end of an event
		if len(line) == 0 {
			if p.buffer.Len() > 0 || p.eventType != "" {
				event := SSEEvent{
					Event: p.eventType,
					Data:  append([]byte(nil), p.buffer.Bytes()...),
					ID:    p.eventID,
				}
				p.reset()
				return event, nil
			}
			continue
		}

		p.handleLine(line)
	}
}

func (p *SSEParser) handleLine(line []byte) {
	// Comments (keep-alives) start with ':'
	if len(line) == 0 || line[0] == ':' {
		return
	}

	idx := bytes.IndexByte(line, ':')
	if idx == -1 {
		// No colon: the whole line is a field name with an empty value
		return
	}
	field := string(line[:idx])
	value := string(line[idx+1:])
	value = strings.TrimPrefix(value, " ")

	switch field {
	case "event":
		p.eventType = value
	case "data":
		if p.buffer.Len() > 0 {
			p.buffer.WriteByte('\n')
		}
		p.buffer.WriteString(value)
	case "id":
		p.eventID = value
	}
}

// reset clears the parser state for the next event
func (p *SSEParser) reset() {
	p.buffer.Reset()
	p.eventType = ""
	p.eventID = ""
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte{'\n'})
	return bytes.TrimSuffix(line, []byte{'\r'})
}

// IsSSEDone checks if the SSE data is the OpenAI [DONE] marker
func IsSSEDone(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("[DONE]"))
}

// WriteSSE encodes one event in wire format
func WriteSSE(w io.Writer, ev SSEEvent) error {
	var sb strings.Builder
	if ev.ID != "" {
		sb.WriteString("id: ")
		sb.WriteString(ev.ID)
		sb.WriteByte('\n')
	}
	if ev.Event != "" {
		sb.WriteString("event: ")
		sb.WriteString(ev.Event)
		sb.WriteByte('\n')
	}
	for _, line := range strings.Split(string(ev.Data), "\n") {
		sb.WriteString("data: ")
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	_, err := io.WriteString(w, sb.String())
	return err
}

// EncodeSSE renders a whole event sequence, as a vendor would send it
func EncodeSSE(events []SSEEvent) []byte {
	var buf bytes.Buffer
	for _, ev := range events {
		_ = WriteSSE(&buf, ev)
	}
	return buf.Bytes()
}
