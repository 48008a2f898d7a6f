package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"quiz-progress/internal/domain"
)

// LedgerMirror keeps the latest ledger snapshot per learner as a JSON string:
//
//	SET ledger:{userID}:wrong-questions <json> EX <ttl>
//
// The snapshot is a cache for offline reads; the backend stays authoritative.
type LedgerMirror struct {
	client *redis.Client
	ttl    time.Duration

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewLedgerMirror(client *redis.Client, ttl time.Duration) *LedgerMirror {
	return &LedgerMirror{
		client: client,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *LedgerMirror) Save(ctx context.Context, userID int64, snapshot domain.LedgerSnapshot) error {
	data, err := json.Marshal(normalize(snapshot))
	if err != nil {
		return fmt.Errorf("marshal ledger snapshot: %w", err)
	}
	if err := m.client.Set(ctx, m.key(userID), data, m.ttlWithJitter()).Err(); err != nil {
		return fmt.Errorf("save ledger snapshot: %w", err)
	}
	return nil
}

func (m *LedgerMirror) Load(ctx context.Context, userID int64) (domain.LedgerSnapshot, bool, error) {
	data, err := m.client.Get(ctx, m.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.LedgerSnapshot{}, false, nil
	}
	if err != nil {
		return domain.LedgerSnapshot{}, false, fmt.Errorf("load ledger snapshot: %w", err)
	}
	var snapshot domain.LedgerSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return domain.LedgerSnapshot{}, false, fmt.Errorf("unmarshal ledger snapshot: %w", err)
	}
	return normalize(snapshot), true, nil
}

// normalize keeps empty lists as [] on the wire and in memory.
func normalize(s domain.LedgerSnapshot) domain.LedgerSnapshot {
	if s.Records == nil {
		s.Records = []domain.WrongQuestionRecord{}
	}
	if s.Pending == nil {
		s.Pending = []domain.PendingMastery{}
	}
	return s
}

func (m *LedgerMirror) key(userID int64) string {
	return "ledger:" + strconv.FormatInt(userID, 10) + ":wrong-questions"
}

func (m *LedgerMirror) ttlWithJitter() time.Duration {
	if m.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(m.ttl) / 10
	m.rndMu.Lock()
	defer m.rndMu.Unlock()
	return m.ttl + time.Duration(m.rnd.Int63n(jitterMax+1))
}
