package store

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/prospector-io/prospector/models"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{DB: db}, mock
}

func TestRegisterScannedPostDedup(t *testing.T) {
	s, mock := newMockStore(t)
	post := models.Post{ID: "t3_abc", Subreddit: "smallbusiness", Title: "Looking for ERP recs"}

	mock.ExpectExec("INSERT INTO scanned_posts").
		WithArgs("t3_abc", "smallbusiness", "Looking for ERP recs", 72).
		WillReturnResult(sqlmock.NewResult(0, 1))
	inserted, err := s.RegisterScannedPost(context.Background(), post, 72)
	if err != nil {
		t.Fatalf("RegisterScannedPost: %v", err)
	}
	if !inserted {
		t.Fatal("first registration must report inserted")
	}

	// Same identifier again: ON CONFLICT DO NOTHING affects zero rows and
	// the caller must see "already seen".
	mock.ExpectExec("INSERT INTO scanned_posts").
		WithArgs("t3_abc", "smallbusiness", "Looking for ERP recs", 72).
		WillReturnResult(sqlmock.NewResult(0, 0))
	inserted, err = s.RegisterScannedPost(context.Background(), post, 72)
	if err != nil {
		t.Fatalf("RegisterScannedPost repeat: %v", err)
	}
	if inserted {
		t.Fatal("re-registering a scanned post must not report a new record")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResolveDecisionSingleUse(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("UPDATE decision_queue SET status").
		WithArgs("d-1", models.DecisionApproved, "operator").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.ResolveDecision(context.Background(), "d-1", models.DecisionApproved, "operator"); err != nil {
		t.Fatalf("first resolution: %v", err)
	}

	// Second resolution finds no pending row.
	mock.ExpectExec("UPDATE decision_queue SET status").
		WithArgs("d-1", models.DecisionApproved, "operator").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := s.ResolveDecision(context.Background(), "d-1", models.DecisionApproved, "operator")
	if !errors.Is(err, models.ErrAlreadyResolved) {
		t.Fatalf("second resolution err = %v, want ErrAlreadyResolved", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestResolveDecisionRejectsInvalidStatus(t *testing.T) {
	s, _ := newMockStore(t)
	if err := s.ResolveDecision(context.Background(), "d-1", models.DecisionPending, "operator"); err == nil {
		t.Fatal("resolving to pending must be rejected")
	}
	if err := s.ResolveDecision(context.Background(), "d-1", models.DecisionExpired, "operator"); err == nil {
		t.Fatal("resolving to expired must be rejected")
	}
}

func TestMarkPostAnalyzed(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE scanned_posts SET layer2_analyzed").
		WithArgs("t3_abc").
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.MarkPostAnalyzed(context.Background(), "t3_abc"); err != nil {
		t.Fatalf("MarkPostAnalyzed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateAdCampaignRequiresSignalType(t *testing.T) {
	s, _ := newMockStore(t)
	_, err := s.CreateAdCampaign(context.Background(), models.AdCampaign{
		Name:             "untagged",
		Status:           models.CampaignRecommended,
		DailyBudgetCents: 1000,
	})
	if err == nil {
		t.Fatal("campaign without a source signal type must be rejected")
	}
}

func TestRotateRefreshTokenGuard(t *testing.T) {
	s, mock := newMockStore(t)
	fresh := OAuthToken{AccessToken: "new-at", RefreshToken: "new-rt", ExpiresAt: time.Now().Add(time.Hour)}

	// Guard misses: another process already rotated the row.
	mock.ExpectExec("UPDATE oauth_tokens").
		WithArgs("reddit", "stale-rt", fresh.AccessToken, fresh.RefreshToken, fresh.ExpiresAt).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := s.RotateRefreshToken(context.Background(), "reddit", "stale-rt", fresh)
	if !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("err = %v, want ErrTokenNotFound on guard miss", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
