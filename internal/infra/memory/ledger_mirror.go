package memory

import (
	"context"
	"sync"

	"quiz-progress/internal/domain"
)

// LedgerMirror is an in-memory implementation of app.LedgerMirror. Each Save replaces the
// learner's previous snapshot.
type LedgerMirror struct {
	mu        sync.RWMutex
	snapshots map[int64]domain.LedgerSnapshot
}

func NewLedgerMirror() *LedgerMirror {
	return &LedgerMirror{
		snapshots: make(map[int64]domain.LedgerSnapshot),
	}
}

func (m *LedgerMirror) Save(_ context.Context, userID int64, snapshot domain.LedgerSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[userID] = copySnapshot(snapshot)
	return nil
}

func (m *LedgerMirror) Load(_ context.Context, userID int64) (domain.LedgerSnapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshot, ok := m.snapshots[userID]
	if !ok {
		return domain.LedgerSnapshot{}, false, nil
	}
	return copySnapshot(snapshot), true, nil
}

func copySnapshot(s domain.LedgerSnapshot) domain.LedgerSnapshot {
	return domain.LedgerSnapshot{
		Records: append([]domain.WrongQuestionRecord{}, s.Records...),
		Pending: append([]domain.PendingMastery{}, s.Pending...),
	}
}
