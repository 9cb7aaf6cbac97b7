// Package bridge manages a pool of per-conversation sidecar subprocesses
// (the Bridge manager/session, C8/C9), each wrapping a persistent LLM chat
// process that maintains its own conversational memory over a line-framed
// JSON protocol on stdio.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/driftkit/taskgraph/core"
)

// KindBridgeProtocol is surfaced when the sidecar's response can't be
// parsed or carries an unrecognized status.
const KindBridgeProtocol = "BridgeProtocol"

// KindBridgeProcessExited is surfaced when the subprocess has died, whether
// discovered before a send or via EOF on stdout.
const KindBridgeProcessExited = "BridgeProcessExited"

// KindBridgeTimeout is surfaced when a request exceeds the per-request
// timeout.
const KindBridgeTimeout = "BridgeTimeout"

const requestTimeout = 120 * time.Second

// request is the line-framed JSON object written to the sidecar's stdin.
type request struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Model   string `json:"model,omitempty"`
}

// response is the line-framed JSON object read back from the sidecar's
// stdout.
type response struct {
	Status  string `json:"status"`
	Data    string `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// Session wraps one persistent sidecar subprocess bound to a single
// conversation. All requests against one Session are serialized by
// exchangeMu — at most one request/response pair outstanding at a time,
// matching the spec's per-conversation exchange guarantee.
type Session struct {
	conversationID string
	logger         core.Logger
	tracer         core.Telemetry

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader

	exchangeMu sync.Mutex

	// exited is closed once the background waiter observes the process
	// exit; cmd.ProcessState is only populated by Wait, so IsRunning can't
	// just inspect it directly without risking a blocking call of its own.
	exited chan struct{}

	stderrDone chan struct{}
	stderrBuf  strings.Builder
	stderrMu   sync.Mutex
}

// NewSession spawns scriptPath as a Node.js sidecar bound to conversationID
// and starts draining its stderr in the background.
func NewSession(conversationID, scriptPath string, logger core.Logger, tracer core.Telemetry) (*Session, error) {
	return newSessionCmd(conversationID, logger, tracer, "node", scriptPath)
}

// newSessionCmd is the command-agnostic constructor NewSession delegates
// to; tests substitute a non-Node.js command to fake the sidecar protocol
// without depending on a real Node.js installation.
func newSessionCmd(conversationID string, logger core.Logger, tracer core.Telemetry, name string, args ...string) (*Session, error) {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if tracer == nil {
		tracer = &core.NoOpTelemetry{}
	}

	cmd := exec.Command(name, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge: failed to open stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge: failed to open stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("bridge: failed to open stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("bridge: failed to spawn sidecar process: %w", err)
	}

	s := &Session{
		conversationID: conversationID,
		logger:         logger,
		tracer:         tracer,
		cmd:            cmd,
		stdin:          stdin,
		stdout:         bufio.NewReader(stdout),
		exited:         make(chan struct{}),
		stderrDone:     make(chan struct{}),
	}

	go s.drainStderr(stderr)
	go s.waitForExit()

	logger.Info("bridge session created", map[string]interface{}{
		"conversation_id": conversationID,
		"pid":             cmd.Process.Pid,
	})

	return s, nil
}

func (s *Session) drainStderr(r io.Reader) {
	defer close(s.stderrDone)
	data, _ := io.ReadAll(r)
	text := strings.TrimSpace(string(data))
	if text == "" {
		return
	}
	s.stderrMu.Lock()
	s.stderrBuf.WriteString(text)
	s.stderrMu.Unlock()
	s.logger.Error("bridge sidecar stderr output", map[string]interface{}{
		"conversation_id": s.conversationID,
		"stderr":          text,
	})
}

func (s *Session) collectedStderr() string {
	s.stderrMu.Lock()
	defer s.stderrMu.Unlock()
	return s.stderrBuf.String()
}

// waitForExit blocks on the single permitted Wait call for this process
// and closes exited once it returns, giving IsRunning a non-blocking check.
func (s *Session) waitForExit() {
	_ = s.cmd.Wait()
	close(s.exited)
}

// IsRunning polls the child process without blocking.
func (s *Session) IsRunning() bool {
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// Kill terminates the subprocess and waits for it to exit.
func (s *Session) Kill() error {
	if s.cmd.Process != nil {
		if err := s.cmd.Process.Kill(); err != nil && s.IsRunning() {
			return fmt.Errorf("bridge: failed to kill session %s: %w", s.conversationID, err)
		}
	}
	<-s.exited
	return nil
}

// Send exchanges one message with the sidecar: writes a framed request,
// reads exactly one framed response line within requestTimeout, and
// classifies the outcome per the sidecar protocol's status field.
func (s *Session) Send(ctx context.Context, content, model string) (string, error) {
	ctx, span := s.tracer.StartSpan(ctx, "bridge.Send")
	defer span.End()
	span.SetAttribute("conversation_id", s.conversationID)
	if model != "" {
		span.SetAttribute("model", model)
	}

	out, err := s.send(ctx, content, model)
	if err != nil {
		span.RecordError(err)
	}
	return out, err
}

func (s *Session) send(ctx context.Context, content, model string) (string, error) {
	s.exchangeMu.Lock()
	defer s.exchangeMu.Unlock()

	req := request{Type: "message", Content: content, Model: model}
	body, err := json.Marshal(req)
	if err != nil {
		return "", core.NewTaskGraphError("bridge.Send", KindBridgeProtocol, fmt.Errorf("failed to serialize request: %w", err))
	}

	if _, err := s.stdin.Write(append(body, '\n')); err != nil {
		return "", s.exitedError(fmt.Errorf("failed to write to sidecar stdin: %w", err))
	}

	type readResult struct {
		line string
		err  error
	}
	lineCh := make(chan readResult, 1)
	go func() {
		line, err := s.stdout.ReadString('\n')
		lineCh <- readResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", core.NewTaskGraphError("bridge.Send", KindBridgeTimeout, ctx.Err())
	case <-time.After(requestTimeout):
		return "", core.NewTaskGraphError("bridge.Send", KindBridgeTimeout, fmt.Errorf("request timed out after %s", requestTimeout))
	case r := <-lineCh:
		if r.err != nil {
			if r.err == io.EOF {
				return "", s.exitedError(fmt.Errorf("EOF while reading response (process may have exited)"))
			}
			return "", core.NewTaskGraphError("bridge.Send", KindBridgeProtocol, fmt.Errorf("failed to read response: %w", r.err))
		}

		var resp response
		if err := json.Unmarshal([]byte(strings.TrimSpace(r.line)), &resp); err != nil {
			return "", core.NewTaskGraphError("bridge.Send", KindBridgeProtocol, fmt.Errorf("failed to parse response: %w", err))
		}

		switch resp.Status {
		case "success":
			return resp.Data, nil
		case "error":
			msg := resp.Message
			if msg == "" {
				msg = "unknown error"
			}
			return "", core.NewTaskGraphError("bridge.Send", KindBridgeProtocol, fmt.Errorf("sidecar error: %s", msg))
		default:
			return "", core.NewTaskGraphError("bridge.Send", KindBridgeProtocol, fmt.Errorf("unexpected response status %q", resp.Status))
		}
	}
}

func (s *Session) exitedError(cause error) error {
	stderr := s.collectedStderr()
	if stderr != "" {
		return core.NewTaskGraphError("bridge.Send", KindBridgeProcessExited, fmt.Errorf("%w (stderr: %s)", cause, stderr))
	}
	return core.NewTaskGraphError("bridge.Send", KindBridgeProcessExited, cause)
}
