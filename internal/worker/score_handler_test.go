package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/hibiken/asynq"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"hireline/internal/database"
	"hireline/internal/tasks"
)

type stubScorer struct {
	score   int
	summary string
	err     error
}

func (s stubScorer) ScoreResume(context.Context, string) (int, string, error) {
	return s.score, s.summary, s.err
}

func newWorkerDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&database.Resume{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResumeScoreHandler_SavesScore(t *testing.T) {
	db := newWorkerDB(t)

	resume := database.Resume{UserID: 1, Text: "experience and skills", Status: database.ResumePending}
	if err := db.Create(&resume).Error; err != nil {
		t.Fatalf("seed resume: %v", err)
	}

	handler := NewResumeScoreHandler(db, stubScorer{score: 85, summary: "solid"}, discardLogger())
	task, err := tasks.NewResumeScoreTask(resume.ID, "test-correlation")
	if err != nil {
		t.Fatalf("build task: %v", err)
	}

	if err := handler.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("process task: %v", err)
	}

	var saved database.Resume
	if err := db.First(&saved, resume.ID).Error; err != nil {
		t.Fatalf("load resume: %v", err)
	}
	if saved.Score != 85 || saved.Summary != "solid" || saved.Status != database.ResumeScored {
		t.Fatalf("unexpected resume state: %+v", saved)
	}
}

func TestResumeScoreHandler_MarksFailedAndRetries(t *testing.T) {
	db := newWorkerDB(t)

	resume := database.Resume{UserID: 1, Text: "text", Status: database.ResumePending}
	if err := db.Create(&resume).Error; err != nil {
		t.Fatalf("seed resume: %v", err)
	}

	handler := NewResumeScoreHandler(db, stubScorer{err: errors.New("upstream unavailable")}, discardLogger())
	task, err := tasks.NewResumeScoreTask(resume.ID, "test-correlation")
	if err != nil {
		t.Fatalf("build task: %v", err)
	}

	err = handler.ProcessTask(context.Background(), task)
	if err == nil {
		t.Fatal("expected error to trigger retry")
	}
	if errors.Is(err, asynq.SkipRetry) {
		t.Fatal("transient scorer failure must remain retryable")
	}

	var saved database.Resume
	if err := db.First(&saved, resume.ID).Error; err != nil {
		t.Fatalf("load resume: %v", err)
	}
	if saved.Status != database.ResumeFailed {
		t.Fatalf("expected status failed, got %q", saved.Status)
	}
}

func TestResumeScoreHandler_DropsMissingResume(t *testing.T) {
	db := newWorkerDB(t)

	handler := NewResumeScoreHandler(db, stubScorer{score: 1}, discardLogger())
	task, err := tasks.NewResumeScoreTask(999, "test-correlation")
	if err != nil {
		t.Fatalf("build task: %v", err)
	}

	if err := handler.ProcessTask(context.Background(), task); err != nil {
		t.Fatalf("missing resume should not error: %v", err)
	}
}
