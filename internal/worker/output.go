package worker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var errEmptyOutput = errors.New("worker produced no output")

// parseOutput extracts the response document from stdout. The whole body is
// tried first; workers that print progress before their result are handled by
// falling back to the last line that starts with '{'.
func parseOutput(stdout []byte) (json.RawMessage, error) {
	body := bytes.TrimSpace(stdout)
	if len(body) == 0 {
		return nil, errEmptyOutput
	}
	if isObject(body) {
		return json.RawMessage(body), nil
	}

	lines := bytes.Split(body, []byte("\n"))
	for i := len(lines) - 1; i >= 0; i-- {
		line := bytes.TrimSpace(lines[i])
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		if isObject(line) {
			return json.RawMessage(line), nil
		}
		break
	}
	return nil, fmt.Errorf("no JSON object in %d bytes of output", len(body))
}

func isObject(b []byte) bool {
	return len(b) > 0 && b[0] == '{' && json.Valid(b)
}

// envelope is the part of every worker response the client understands.
type envelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

// checkEnvelope rejects responses that declare their own failure.
func checkEnvelope(doc json.RawMessage) error {
	var env envelope
	if err := json.Unmarshal(doc, &env); err != nil {
		return err
	}
	if env.Success != nil && !*env.Success {
		if env.Error == "" {
			return errors.New("worker reported success=false")
		}
		return fmt.Errorf("worker reported failure: %s", env.Error)
	}
	return nil
}

// limitedBuffer keeps at most max bytes and silently discards the rest, so a
// runaway worker cannot exhaust memory.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.max <= 0 {
		return b.buf.Write(p)
	}
	remaining := b.max - b.buf.Len()
	if remaining <= 0 {
		b.truncated = len(p) > 0 || b.truncated
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:remaining])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) Bytes() []byte  { return b.buf.Bytes() }
func (b *limitedBuffer) String() string { return b.buf.String() }
