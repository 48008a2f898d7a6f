package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-progress/internal/domain"
)

// LedgerMirror stores each learner's ledger snapshot as one row of JSONB columns.
type LedgerMirror struct {
	pool *pgxpool.Pool
}

func NewLedgerMirror(pool *pgxpool.Pool) *LedgerMirror {
	return &LedgerMirror{pool: pool}
}

func (m *LedgerMirror) Save(ctx context.Context, userID int64, snapshot domain.LedgerSnapshot) error {
	if snapshot.Records == nil {
		snapshot.Records = []domain.WrongQuestionRecord{}
	}
	if snapshot.Pending == nil {
		snapshot.Pending = []domain.PendingMastery{}
	}
	records, err := json.Marshal(snapshot.Records)
	if err != nil {
		return fmt.Errorf("marshal ledger records: %w", err)
	}
	pending, err := json.Marshal(snapshot.Pending)
	if err != nil {
		return fmt.Errorf("marshal pending marks: %w", err)
	}
	_, err = m.pool.Exec(ctx, `
		INSERT INTO wrong_question_mirror (user_id, records, pending, updated_at)
		VALUES ($1, $2::jsonb, $3::jsonb, now())
		ON CONFLICT (user_id) DO UPDATE
		SET records = EXCLUDED.records, pending = EXCLUDED.pending, updated_at = EXCLUDED.updated_at`,
		userID, string(records), string(pending))
	if err != nil {
		return fmt.Errorf("save ledger snapshot: %w", err)
	}
	return nil
}

func (m *LedgerMirror) Load(ctx context.Context, userID int64) (domain.LedgerSnapshot, bool, error) {
	var rawRecords, rawPending []byte
	err := m.pool.QueryRow(ctx, `SELECT records, pending FROM wrong_question_mirror WHERE user_id=$1`, userID).
		Scan(&rawRecords, &rawPending)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LedgerSnapshot{}, false, nil
	}
	if err != nil {
		return domain.LedgerSnapshot{}, false, fmt.Errorf("load ledger snapshot: %w", err)
	}
	var snapshot domain.LedgerSnapshot
	if err := json.Unmarshal(rawRecords, &snapshot.Records); err != nil {
		return domain.LedgerSnapshot{}, false, fmt.Errorf("unmarshal ledger records: %w", err)
	}
	if err := json.Unmarshal(rawPending, &snapshot.Pending); err != nil {
		return domain.LedgerSnapshot{}, false, fmt.Errorf("unmarshal pending marks: %w", err)
	}
	return snapshot, true, nil
}
