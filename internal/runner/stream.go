package runner

import (
	"bytes"
	"encoding/json"
	"strings"
)

// LineBuffer assembles complete lines from a byte stream. Partial trailing
// lines are buffered until the next write or a final Flush.
type LineBuffer struct {
	buf bytes.Buffer
}

// Feed appends bytes and returns the complete lines they produced
func (lb *LineBuffer) Feed(p []byte) []string {
	lb.buf.Write(p)

	var lines []string
	for {
		b := lb.buf.Bytes()
		i := bytes.IndexByte(b, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, strings.TrimRight(string(b[:i]), "\r"))
		lb.buf.Next(i + 1)
	}
	return lines
}

// Flush returns any buffered partial line and resets the buffer
func (lb *LineBuffer) Flush() string {
	s := strings.TrimRight(lb.buf.String(), "\r")
	lb.buf.Reset()
	return s
}

// streamMessage mirrors one line of the agent's stream-json output
type streamMessage struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype,omitempty"`
	Result  string `json:"result,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
	Message *struct {
		Content []contentBlock `json:"content"`
	} `json:"message,omitempty"`
}

type contentBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	Thinking  string `json:"thinking,omitempty"`
	Name      string `json:"name,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
}

// StreamParser consumes stream-json output line by line and emits events.
// Assistant text fragments are accumulated and flushed as a single message
// event when the turn completes, so consumers see whole messages instead of
// token dribble. It implements io.Writer so it can be wired directly to the
// subprocess stdout.
type StreamParser struct {
	lines     LineBuffer
	onEvent   func(Event)
	assistant strings.Builder
	result    string
	isError   bool
}

// NewStreamParser creates a parser that forwards events to onEvent (may be nil)
func NewStreamParser(onEvent func(Event)) *StreamParser {
	return &StreamParser{onEvent: onEvent}
}

// Write feeds raw subprocess output into the parser
func (p *StreamParser) Write(b []byte) (int, error) {
	for _, line := range p.lines.Feed(b) {
		p.parseLine(line)
	}
	return len(b), nil
}

// Close drains any buffered partial line and flushes pending assistant text
func (p *StreamParser) Close() {
	if rest := strings.TrimSpace(p.lines.Flush()); rest != "" {
		p.parseLine(rest)
	}
	p.flushAssistant()
}

// Result returns the final result message reported by the agent, if any
func (p *StreamParser) Result() string {
	return p.result
}

// IsError reports whether the agent's result message carried an error subtype
func (p *StreamParser) IsError() bool {
	return p.isError
}

func (p *StreamParser) parseLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	// Anything that isn't a JSON object passes through untouched
	if !strings.HasPrefix(line, "{") {
		p.emit(Event{Kind: EventRaw, Text: line})
		return
	}

	var msg streamMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		p.emit(Event{Kind: EventRaw, Text: line})
		return
	}

	switch msg.Type {
	case "assistant":
		if msg.Message == nil {
			return
		}
		for _, block := range msg.Message.Content {
			switch block.Type {
			case "text":
				p.assistant.WriteString(block.Text)
			case "thinking":
				p.emit(Event{Kind: EventThinking, Text: block.Thinking})
			case "tool_use":
				p.emit(Event{Kind: EventToolStarted, Tool: block.Name})
			}
		}
	case "user":
		if msg.Message == nil {
			return
		}
		for _, block := range msg.Message.Content {
			if block.Type == "tool_result" {
				p.emit(Event{Kind: EventToolCompleted, Tool: block.ToolUseID})
			}
		}
	case "result":
		p.result = msg.Result
		p.isError = msg.IsError || (msg.Subtype != "" && msg.Subtype != "success")
		p.flushAssistant()
		p.emit(Event{Kind: EventTurnCompleted, Text: msg.Result})
	case "system":
		// Init banner, nothing to surface
	default:
		p.emit(Event{Kind: EventRaw, Text: line})
	}
}

func (p *StreamParser) flushAssistant() {
	if p.assistant.Len() == 0 {
		return
	}
	p.emit(Event{Kind: EventMessage, Text: p.assistant.String()})
	p.assistant.Reset()
}

func (p *StreamParser) emit(ev Event) {
	if p.onEvent != nil {
		p.onEvent(ev)
	}
}

// rawLineWriter forwards every output line as a raw event. Used for agents
// that emit plain text instead of stream-json.
type rawLineWriter struct {
	lines   LineBuffer
	onEvent func(Event)
}

func (w *rawLineWriter) Write(b []byte) (int, error) {
	for _, line := range w.lines.Feed(b) {
		if w.onEvent != nil && strings.TrimSpace(line) != "" {
			w.onEvent(Event{Kind: EventRaw, Text: line})
		}
	}
	return len(b), nil
}

func (w *rawLineWriter) Close() {
	if rest := strings.TrimSpace(w.lines.Flush()); rest != "" && w.onEvent != nil {
		w.onEvent(Event{Kind: EventRaw, Text: rest})
	}
}
