package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/corvid-labs/relaychat/pkg/log"
)

// TerminalState describes how a streaming call ended.
type TerminalState int

const (
	StatePending TerminalState = iota
	StateCompleted
	StateErrored
	StateTimedOut
)

func (s TerminalState) String() string {
	switch s {
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateTimedOut:
		return "timed_out"
	default:
		return "pending"
	}
}

// StreamResult is the terminal outcome of one streaming call. Exactly one
// StreamResult is returned per call; Content holds everything accumulated
// before the terminal event, whatever the terminal state.
type StreamResult struct {
	Content string
	State   TerminalState
	Err     error
}

const doneSentinel = "[DONE]"

// frameLine is one newline-delimited unit read off the response body.
type frameLine struct {
	line string
	err  error
}

// StreamCompletion opens a streaming completion call and invokes onDelta for
// each content fragment, in generation order, from the calling goroutine's
// point of view sequentially. It returns once, with the terminal state:
//
//   - StateCompleted: the end-of-stream sentinel arrived.
//   - StateTimedOut: no well-formed frame arrived within the idle-timeout;
//     treated like completion with the content accumulated so far.
//   - StateErrored: dispatch failed, the provider returned a non-success
//     status, the connection broke mid-stream, or ctx was cancelled.
//
// A malformed frame is logged and skipped; it never ends the stream.
func (c *Client) StreamCompletion(ctx context.Context, messages []ChatMessage, onDelta func(delta string)) *StreamResult {
	body, err := json.Marshal(chatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return &StreamResult{State: StateErrored, Err: fmt.Errorf("failed to marshal request: %w", err)}
	}

	// Child context so a terminal event tears down the request body and
	// unblocks the reader goroutine.
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return &StreamResult{State: StateErrored, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	c.setHeaders(req)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &StreamResult{State: StateErrored, Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return &StreamResult{State: StateErrored, Err: newStatusError(resp.StatusCode, respBody)}
	}

	lines := make(chan frameLine, 1)
	go readLines(reqCtx, resp.Body, lines)

	var buf strings.Builder
	idle := time.NewTimer(c.idleTimeout)
	defer idle.Stop()

	l := log.Ctx(ctx)

	for {
		select {
		case <-ctx.Done():
			return &StreamResult{Content: buf.String(), State: StateErrored, Err: ctx.Err()}

		case <-idle.C:
			// A stalled stream still yields a usable partial answer.
			l.Warn().Dur("idle_timeout", c.idleTimeout).Msg("upstream stream idle timeout")
			return &StreamResult{Content: buf.String(), State: StateTimedOut}

		case fl := <-lines:
			if fl.err != nil {
				if fl.err == io.EOF {
					// Stream ended without the sentinel: the answer may be
					// truncated, so surface it as an error with whatever
					// content accumulated.
					return &StreamResult{Content: buf.String(), State: StateErrored, Err: io.ErrUnexpectedEOF}
				}
				return &StreamResult{Content: buf.String(), State: StateErrored, Err: fmt.Errorf("failed to read stream: %w", fl.err)}
			}

			delta, done, ok := parseFrame(fl.line)
			if !ok {
				l.Warn().Str("frame", truncateForLog(fl.line)).Msg("skipping malformed stream frame")
				continue
			}
			// Any well-formed frame proves the stream is alive.
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(c.idleTimeout)

			if done {
				return &StreamResult{Content: buf.String(), State: StateCompleted}
			}
			if delta == "" {
				continue
			}

			buf.WriteString(delta)
			onDelta(delta)
		}
	}
}

// readLines reassembles the chunked response body on line boundaries and
// forwards one line at a time. Frames split across network reads are joined
// by the buffered reader before they are handed on.
func readLines(ctx context.Context, body io.Reader, out chan<- frameLine) {
	reader := bufio.NewReader(body)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if line != "" {
				// Forward a final unterminated line before reporting EOF.
				select {
				case out <- frameLine{line: line}:
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- frameLine{err: err}:
			case <-ctx.Done():
			}
			return
		}
		select {
		case out <- frameLine{line: line}:
		case <-ctx.Done():
			return
		}
	}
}

// parseFrame decodes a single event-stream line. It returns the content
// delta and whether the line is the end-of-stream sentinel. ok is false for
// a data line whose JSON payload cannot be parsed; blank and non-data lines
// are valid no-ops.
func parseFrame(line string) (delta string, done bool, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "data:") {
		return "", false, true
	}

	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == doneSentinel {
		return "", true, true
	}

	var chunk streamChunk
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return "", false, false
	}
	if len(chunk.Choices) == 0 {
		return "", false, true
	}
	return chunk.Choices[0].Delta.Content, false, true
}

func truncateForLog(s string) string {
	const max = 256
	if len(s) > max {
		return s[:max] + "..."
	}
	return strings.TrimSpace(s)
}
