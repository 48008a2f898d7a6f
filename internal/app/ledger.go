package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"quiz-progress/internal/domain"
	"quiz-progress/internal/metrics"
)

// LedgerRemote marks wrong-question records as redone on the backend.
type LedgerRemote interface {
	MarkRedone(ctx context.Context, wrongQuestionID int64, selectedOptionIDs []int64) error
}

// LedgerMirror is a durable copy of a learner's active records and unconfirmed marks. It is a
// cache, never the source of truth, and every Save replaces the previous snapshot.
type LedgerMirror interface {
	Save(ctx context.Context, userID int64, snapshot domain.LedgerSnapshot) error
	Load(ctx context.Context, userID int64) (domain.LedgerSnapshot, bool, error)
}

// MasteryResult separates the local outcome of an answer from the remote confirmation.
type MasteryResult struct {
	Correct         bool                       `json:"correct"`
	LocallyApplied  bool                       `json:"locallyApplied"`
	RemoteConfirmed bool                       `json:"remoteConfirmed"`
	RemoteErr       error                      `json:"-"`
	Remaining       int                        `json:"remaining"`
	Record          domain.WrongQuestionRecord `json:"record"`
}

// Ledger holds one learner's unmastered questions as a reviewable sequence with a cursor.
type Ledger struct {
	userID int64
	remote LedgerRemote
	mirror LedgerMirror
	logger *zap.Logger
	clock  func() time.Time

	mu      sync.Mutex
	records []domain.WrongQuestionRecord
	cursor  int
	pending map[int64]domain.PendingMastery

	// serializes mirror writes so the last write carries the latest state
	mirrorMu sync.Mutex
}

func NewLedger(userID int64, remote LedgerRemote, mirror LedgerMirror, logger *zap.Logger) *Ledger {
	return NewLedgerWithClock(userID, remote, mirror, logger, time.Now)
}

// NewLedgerWithClock allows deterministic mastery timestamps in tests.
func NewLedgerWithClock(userID int64, remote LedgerRemote, mirror LedgerMirror, logger *zap.Logger, now func() time.Time) *Ledger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ledger{
		userID:  userID,
		remote:  remote,
		mirror:  mirror,
		logger:  logger,
		clock:   now,
		pending: make(map[int64]domain.PendingMastery),
	}
}

// Dedup keeps the newest record per question id. Records are stable-sorted by CreatedAt
// descending so arrival order never decides which duplicate wins. Options inside each kept
// record are deduplicated by option id, first seen wins.
func Dedup(raw []domain.WrongQuestionRecord) []domain.WrongQuestionRecord {
	sorted := append([]domain.WrongQuestionRecord(nil), raw...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CreatedAt.After(sorted[j].CreatedAt)
	})

	seen := make(map[int64]struct{}, len(sorted))
	out := make([]domain.WrongQuestionRecord, 0, len(sorted))
	for _, rec := range sorted {
		if rec.QuestionID == 0 {
			rec.QuestionID = rec.Question.ID
		}
		if _, ok := seen[rec.QuestionID]; ok {
			continue
		}
		seen[rec.QuestionID] = struct{}{}
		rec.Question = dedupOptions(rec.Question)
		out = append(out, rec)
	}
	return out
}

func dedupOptions(q domain.Question) domain.Question {
	seen := make(map[int64]struct{}, len(q.Options))
	options := make([]domain.Option, 0, len(q.Options))
	for _, opt := range q.Options {
		if _, ok := seen[opt.ID]; ok {
			continue
		}
		seen[opt.ID] = struct{}{}
		opt.Label = domain.OptionLabel(len(options))
		options = append(options, opt)
	}
	q.Options = options
	return q
}

// Ingest replaces the active set with the deduplicated server view. Records whose newest
// entry is already redone are dropped, as is the very record a pending mark refers to. A
// newer wrong answer for a pending question carries a new wrongQuestionId and stays.
func (l *Ledger) Ingest(ctx context.Context, raw []domain.WrongQuestionRecord) []domain.WrongQuestionRecord {
	deduped := Dedup(raw)

	l.mu.Lock()
	active := make([]domain.WrongQuestionRecord, 0, len(deduped))
	for _, rec := range deduped {
		mark, isPending := l.pending[rec.QuestionID]
		if rec.IsRedone {
			if isPending && mark.WrongQuestionID == rec.WrongQuestionID {
				delete(l.pending, rec.QuestionID)
			}
			continue
		}
		// server ids only; server timestamps and the local clock may disagree on zones
		if isPending && mark.WrongQuestionID == rec.WrongQuestionID {
			continue
		}
		active = append(active, rec)
	}
	l.records = active
	l.cursor = 0
	out := l.snapshotLocked()
	l.mu.Unlock()

	l.logger.Debug("wrong questions ingested",
		zap.Int64("userId", l.userID), zap.Int("raw", len(raw)), zap.Int("active", len(out)))
	l.saveMirror(ctx)
	return out
}

// Restore loads a mirror snapshot without contacting the backend.
func (l *Ledger) Restore(snapshot domain.LedgerSnapshot) []domain.WrongQuestionRecord {
	l.AdoptPending(snapshot.Pending)
	deduped := Dedup(snapshot.Records)
	l.mu.Lock()
	defer l.mu.Unlock()
	active := make([]domain.WrongQuestionRecord, 0, len(deduped))
	for _, rec := range deduped {
		if mark, ok := l.pending[rec.QuestionID]; ok && mark.WrongQuestionID == rec.WrongQuestionID {
			continue
		}
		active = append(active, rec)
	}
	l.records = active
	l.cursor = 0
	return l.snapshotLocked()
}

// AdoptPending merges marks left unconfirmed by an earlier session. Marks already known win.
func (l *Ledger) AdoptPending(marks []domain.PendingMastery) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, mark := range marks {
		if _, ok := l.pending[mark.QuestionID]; ok {
			continue
		}
		l.pending[mark.QuestionID] = mark
		if idx := l.indexLocked(mark.QuestionID); idx >= 0 && l.records[idx].WrongQuestionID == mark.WrongQuestionID {
			l.removeLocked(idx)
		}
	}
}

// CheckAnswer scores answer against the active record for questionID. A correct answer
// removes the record locally first; the remote mark and the mirror write are best effort and
// their failure does not restore the record.
func (l *Ledger) CheckAnswer(ctx context.Context, questionID int64, answer domain.Answer) (MasteryResult, error) {
	l.mu.Lock()
	idx := l.indexLocked(questionID)
	if idx < 0 {
		l.mu.Unlock()
		return MasteryResult{}, fmt.Errorf("question %d: %w", questionID, domain.ErrRecordNotFound)
	}
	rec := l.records[idx]
	if !IsCorrect(rec.Question, answer) {
		remaining := len(l.records)
		l.mu.Unlock()
		metrics.Remediations.WithLabelValues("incorrect").Inc()
		return MasteryResult{Remaining: remaining, Record: rec}, nil
	}
	l.removeLocked(idx)
	l.pending[questionID] = domain.PendingMastery{
		QuestionID:        questionID,
		WrongQuestionID:   rec.WrongQuestionID,
		SelectedOptionIDs: append([]int64(nil), answer.OptionIDs...),
		MasteredAt:        l.clock(),
	}
	result := MasteryResult{
		Correct:        true,
		LocallyApplied: true,
		Remaining:      len(l.records),
		Record:         rec,
	}
	l.mu.Unlock()

	if err := l.remote.MarkRedone(ctx, rec.WrongQuestionID, answer.OptionIDs); err != nil {
		result.RemoteErr = err
		metrics.Remediations.WithLabelValues("pending").Inc()
		l.logger.Warn("mark redone failed, kept as pending",
			zap.Int64("userId", l.userID),
			zap.Int64("wrongQuestionId", rec.WrongQuestionID),
			zap.Error(err))
	} else {
		l.confirm(questionID, rec.WrongQuestionID)
		result.RemoteConfirmed = true
		metrics.Remediations.WithLabelValues("confirmed").Inc()
	}

	l.saveMirror(ctx)
	return result, nil
}

// Reconcile retries every pending remote mark. It returns how many were confirmed.
func (l *Ledger) Reconcile(ctx context.Context) (int, error) {
	l.mu.Lock()
	ids := make([]int64, 0, len(l.pending))
	marks := make(map[int64]domain.PendingMastery, len(l.pending))
	for qid, mark := range l.pending {
		ids = append(ids, qid)
		marks[qid] = mark
	}
	l.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	confirmed := 0
	var errs []error
	for _, qid := range ids {
		mark := marks[qid]
		if err := l.remote.MarkRedone(ctx, mark.WrongQuestionID, mark.SelectedOptionIDs); err != nil {
			errs = append(errs, fmt.Errorf("wrong question %d: %w", mark.WrongQuestionID, err))
			continue
		}
		l.confirm(qid, mark.WrongQuestionID)
		confirmed++
	}
	if confirmed > 0 {
		l.logger.Info("pending marks reconciled", zap.Int64("userId", l.userID), zap.Int("confirmed", confirmed))
		l.saveMirror(ctx)
	}
	return confirmed, errors.Join(errs...)
}

// Pending returns question ids mastered locally whose remote mark is unconfirmed.
func (l *Ledger) Pending() []int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	ids := make([]int64, 0, len(l.pending))
	for qid := range l.pending {
		ids = append(ids, qid)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Snapshot returns what the mirror persists: active records and pending marks by question id.
func (l *Ledger) Snapshot() domain.LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap := domain.LedgerSnapshot{
		Records: l.snapshotLocked(),
		Pending: make([]domain.PendingMastery, 0, len(l.pending)),
	}
	for _, mark := range l.pending {
		snap.Pending = append(snap.Pending, mark)
	}
	sort.Slice(snap.Pending, func(i, j int) bool { return snap.Pending[i].QuestionID < snap.Pending[j].QuestionID })
	return snap
}

// Active returns a copy of the active records in review order.
func (l *Ledger) Active() []domain.WrongQuestionRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Current returns the record under the cursor.
func (l *Ledger) Current() (domain.WrongQuestionRecord, int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.records) == 0 {
		return domain.WrongQuestionRecord{}, 0, false
	}
	return l.records[l.cursor], l.cursor, true
}

// Next moves the cursor forward; it reports false at the end.
func (l *Ledger) Next() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cursor+1 >= len(l.records) {
		return false
	}
	l.cursor++
	return true
}

// Prev moves the cursor back; it reports false at the start.
func (l *Ledger) Prev() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cursor == 0 {
		return false
	}
	l.cursor--
	return true
}

func (l *Ledger) confirm(questionID, wrongQuestionID int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if mark, ok := l.pending[questionID]; ok && mark.WrongQuestionID == wrongQuestionID {
		delete(l.pending, questionID)
	}
}

func (l *Ledger) indexLocked(questionID int64) int {
	for i, rec := range l.records {
		if rec.QuestionID == questionID {
			return i
		}
	}
	return -1
}

// removeLocked drops records[idx] without letting the cursor skip the following item.
func (l *Ledger) removeLocked(idx int) {
	next := make([]domain.WrongQuestionRecord, 0, len(l.records)-1)
	next = append(next, l.records[:idx]...)
	next = append(next, l.records[idx+1:]...)
	l.records = next

	switch {
	case idx < l.cursor:
		l.cursor--
	case l.cursor >= len(l.records):
		l.cursor = len(l.records) - 1
	}
	if l.cursor < 0 {
		l.cursor = 0
	}
}

func (l *Ledger) snapshotLocked() []domain.WrongQuestionRecord {
	return append([]domain.WrongQuestionRecord{}, l.records...)
}

func (l *Ledger) saveMirror(ctx context.Context) {
	if l.mirror == nil {
		return
	}
	l.mirrorMu.Lock()
	defer l.mirrorMu.Unlock()
	if err := l.mirror.Save(ctx, l.userID, l.Snapshot()); err != nil {
		l.logger.Warn("ledger mirror write failed", zap.Int64("userId", l.userID), zap.Error(err))
	}
}
