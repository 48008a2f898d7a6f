package redis

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"quiz-progress/internal/domain"
)

func TestLedgerMirrorRoundTripsSnapshot(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	mirror := NewLedgerMirror(newClient(mr), time.Minute)
	ctx := context.Background()

	if _, found, err := mirror.Load(ctx, 42); err != nil || found {
		t.Fatalf("expected miss, found=%v err=%v", found, err)
	}

	snapshot := domain.LedgerSnapshot{
		Records: []domain.WrongQuestionRecord{sampleRecord(1, 10), sampleRecord(2, 20)},
		Pending: []domain.PendingMastery{{QuestionID: 30, WrongQuestionID: 3, SelectedOptionIDs: []int64{2}}},
	}
	if err := mirror.Save(ctx, 42, snapshot); err != nil {
		t.Fatalf("save: %v", err)
	}
	if !mr.Exists("ledger:42:wrong-questions") {
		t.Fatalf("expected redis key to be set")
	}
	if ttl := mr.TTL("ledger:42:wrong-questions"); ttl < time.Minute || ttl > time.Minute+6*time.Second {
		t.Fatalf("expected ttl with at most 10%% jitter, got %v", ttl)
	}

	got, found, err := mirror.Load(ctx, 42)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if len(got.Records) != 2 || got.Records[1].Question.Options[0].Label != "a" {
		t.Fatalf("unexpected records %+v", got.Records)
	}
	if len(got.Pending) != 1 || got.Pending[0].WrongQuestionID != 3 {
		t.Fatalf("unexpected pending marks %+v", got.Pending)
	}
}

func TestLedgerMirrorSaveReplacesPreviousSnapshot(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	mirror := NewLedgerMirror(newClient(mr), 0)
	ctx := context.Background()

	_ = mirror.Save(ctx, 1, domain.LedgerSnapshot{Records: []domain.WrongQuestionRecord{sampleRecord(1, 10), sampleRecord(2, 20)}})
	_ = mirror.Save(ctx, 1, domain.LedgerSnapshot{})

	got, found, err := mirror.Load(ctx, 1)
	if err != nil || !found {
		t.Fatalf("load: found=%v err=%v", found, err)
	}
	if len(got.Records) != 0 || got.Records == nil || got.Pending == nil {
		t.Fatalf("expected empty non-nil snapshot after overwrite, got %+v", got)
	}
}

func TestLedgerMirrorRejectsCorruptSnapshot(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("run miniredis: %v", err)
	}
	defer mr.Close()

	_ = mr.Set("ledger:5:wrong-questions", "{not json")
	mirror := NewLedgerMirror(newClient(mr), time.Minute)
	if _, _, err := mirror.Load(context.Background(), 5); err == nil {
		t.Fatalf("expected unmarshal error")
	}
}

func sampleRecord(wrongID, questionID int64) domain.WrongQuestionRecord {
	return domain.WrongQuestionRecord{
		WrongQuestionID: wrongID,
		QuestionID:      questionID,
		CreatedAt:       time.Unix(1700000000, 0).UTC(),
		Question: domain.Question{
			ID:   questionID,
			Text: "What is 2 + 2?",
			Kind: domain.KindSingle,
			Options: []domain.Option{
				{ID: 1, Label: "a", Text: "3"},
				{ID: 2, Label: "b", Text: "4", IsCorrect: true},
			},
		},
	}
}

func newClient(mr *miniredis.Miniredis) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
}
