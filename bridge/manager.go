package bridge

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/driftkit/taskgraph/core"
)

// Manager owns the conversation_id -> Session table under a single
// read-write lock, exactly as spec.md describes: readers share a fast
// path, session insertion is exclusive. A singleflight.Group collapses
// concurrent get-or-create calls for the same conversation_id into a
// single subprocess spawn, strengthening the check-then-create window the
// Rust original leaves open.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	group    singleflight.Group
	logger   core.Logger
	tracer   core.Telemetry

	// spawn constructs a brand-new Session for conversationID. It's a field
	// rather than a direct NewSession call so tests can substitute a fake
	// sidecar command without depending on a real Node.js installation.
	spawn func(conversationID string) (*Session, error)
}

// NewManager builds an empty pool. scriptPath is the sidecar entrypoint
// every new Session is spawned with. tracer is passed through to every
// spawned Session so bridge sends show up as spans alongside the Gemini
// client and graph execution; a nil tracer disables tracing entirely.
func NewManager(scriptPath string, logger core.Logger, tracer core.Telemetry) *Manager {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if tracer == nil {
		tracer = &core.NoOpTelemetry{}
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		logger:   logger,
		tracer:   tracer,
	}
	m.spawn = func(conversationID string) (*Session, error) {
		return NewSession(conversationID, scriptPath, logger, tracer)
	}
	return m
}

// GetOrCreate returns the live session for conversationID, creating one if
// absent or if the previous one has died. The span covers the table lookup
// and, on a miss, the subprocess spawn — the expensive path callers care
// about seeing in a trace.
func (m *Manager) GetOrCreate(ctx context.Context, conversationID string) (*Session, error) {
	_, span := m.tracer.StartSpan(ctx, "bridge.GetOrCreate")
	defer span.End()
	span.SetAttribute("conversation_id", conversationID)

	session, err := m.getOrCreate(conversationID)
	if err != nil {
		span.RecordError(err)
	}
	return session, err
}

func (m *Manager) getOrCreate(conversationID string) (*Session, error) {
	m.mu.RLock()
	if s, ok := m.sessions[conversationID]; ok && s.IsRunning() {
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	if s, ok := m.sessions[conversationID]; ok && !s.IsRunning() {
		m.logger.Warn("existing bridge session has died, removing before recreating", map[string]interface{}{
			"conversation_id": conversationID,
		})
		delete(m.sessions, conversationID)
	}
	m.mu.Unlock()

	result, err, _ := m.group.Do(conversationID, func() (interface{}, error) {
		m.mu.RLock()
		if s, ok := m.sessions[conversationID]; ok && s.IsRunning() {
			m.mu.RUnlock()
			return s, nil
		}
		m.mu.RUnlock()

		session, err := m.spawn(conversationID)
		if err != nil {
			return nil, core.NewTaskGraphError("bridge.GetOrCreate", KindBridgeProcessExited, err)
		}

		m.mu.Lock()
		m.sessions[conversationID] = session
		m.mu.Unlock()

		m.logger.Info("bridge session created and stored", map[string]interface{}{
			"conversation_id": conversationID,
		})
		return session, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Session), nil
}

// SendMessage routes content to conversationID's session, creating one on
// demand.
func (m *Manager) SendMessage(ctx context.Context, conversationID, content, model string) (string, error) {
	session, err := m.GetOrCreate(ctx, conversationID)
	if err != nil {
		return "", err
	}
	return session.Send(ctx, content, model)
}

// KillProcess tears down and forgets conversationID's session, if any.
func (m *Manager) KillProcess(conversationID string) error {
	m.mu.Lock()
	session, ok := m.sessions[conversationID]
	if ok {
		delete(m.sessions, conversationID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if err := session.Kill(); err != nil {
		return fmt.Errorf("bridge: failed to kill process for %s: %w", conversationID, err)
	}
	return nil
}

// KillAll tears down every session — intended for graceful service
// shutdown.
func (m *Manager) KillAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for id, session := range sessions {
		if err := session.Kill(); err != nil {
			m.logger.Error("failed to kill bridge process during shutdown", map[string]interface{}{
				"conversation_id": id,
				"error":           err.Error(),
			})
		}
	}
}

// SessionCount reports the number of active sessions, for metrics.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
