package session

import (
	"context"
	"sync"
	"time"

	"github.com/datalingua-dev/openclaw-wechat/internal/llm"
)

// historyLimit keeps the last 10 rounds per conversation.
const historyLimit = 20

// Manager (In-Memory Version for local dev)
type Manager struct {
	store sync.Map // map[string][]llm.Message
	ttl   time.Duration
}

func NewManager() *Manager {
	return &Manager{
		ttl: 24 * time.Hour,
	}
}

func (s *Manager) GetHistory(ctx context.Context, sessionID string) ([]llm.Message, error) {
	val, ok := s.store.Load(sessionID)
	if !ok {
		return []llm.Message{}, nil
	}
	return val.([]llm.Message), nil
}

func (s *Manager) Append(ctx context.Context, sessionID string, msgs ...llm.Message) error {
	history, _ := s.GetHistory(ctx, sessionID)

	history = append(history, msgs...)
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}

	s.store.Store(sessionID, history)
	return nil
}

// Clear drops the stored history for a session ("/clear" command).
func (s *Manager) Clear(ctx context.Context, sessionID string) {
	s.store.Delete(sessionID)
}

// Count reports how many messages are stored for a session.
func (s *Manager) Count(ctx context.Context, sessionID string) int {
	history, _ := s.GetHistory(ctx, sessionID)
	return len(history)
}

// Limit is the per-session history cap.
func (s *Manager) Limit() int { return historyLimit }
