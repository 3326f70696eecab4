package token

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"sellerhub/internal/db/models"
)

func TestRunOnce_RefreshesOnlyDueAccounts(t *testing.T) {
	db := newTestDB(t)
	srv, calls := tokenServer(t, func(w http.ResponseWriter, refreshToken string) {
		writeTokenJSON(w, "new-access-"+refreshToken, "new-"+refreshToken, 21600)
	})
	mgr, accounts := newTestManager(db, srv)

	due := testAccount("due")
	due.RefreshToken = "rt-due"
	due.LastTokenRefresh = time.Now().Add(-2 * time.Hour)
	due.NextTokenRefreshNeeded = time.Now().Add(-time.Minute)

	notDue := testAccount("not-due")
	notDue.MarketplaceUserID = "234567"
	notDue.RefreshToken = "rt-not-due"
	notDue.LastTokenRefresh = time.Now()
	notDue.NextTokenRefreshNeeded = time.Now().Add(5 * time.Hour)

	for _, acc := range []*models.LinkedAccount{due, notDue} {
		if err := db.Create(acc).Error; err != nil {
			t.Fatalf("create %s: %v", acc.ID, err)
		}
	}

	sched := NewScheduler(mgr, accounts, SchedulerConfig{})
	summary := sched.RunOnce(context.Background())

	if summary.Selected != 1 || summary.Refreshed != 1 {
		t.Fatalf("expected 1 selected/refreshed, got %+v", summary)
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Fatalf("expected one exchange, got %d", *calls)
	}

	stored, _ := accounts.FindByID("not-due")
	if stored.RefreshToken != "rt-not-due" {
		t.Fatal("account with future next-refresh must be a no-op")
	}
}

func TestRunOnce_OneFailureNeverBlocksTheFleet(t *testing.T) {
	db := newTestDB(t)
	srv, _ := tokenServer(t, func(w http.ResponseWriter, refreshToken string) {
		if refreshToken == "rt-bad" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeTokenJSON(w, "new-access", "new-"+refreshToken, 21600)
	})
	mgr, accounts := newTestManager(db, srv)

	bad := testAccount("bad")
	bad.RefreshToken = "rt-bad"
	bad.NextTokenRefreshNeeded = time.Now().Add(-2 * time.Minute)

	good := testAccount("good")
	good.MarketplaceUserID = "234567"
	good.RefreshToken = "rt-good"
	good.NextTokenRefreshNeeded = time.Now().Add(-time.Minute)

	for _, acc := range []*models.LinkedAccount{bad, good} {
		if err := db.Create(acc).Error; err != nil {
			t.Fatalf("create %s: %v", acc.ID, err)
		}
	}

	sched := NewScheduler(mgr, accounts, SchedulerConfig{})
	summary := sched.RunOnce(context.Background())

	if summary.Failed != 1 || summary.Refreshed != 1 {
		t.Fatalf("expected 1 failed and 1 refreshed, got %+v", summary)
	}

	stored, _ := accounts.FindByID("good")
	if stored.RefreshToken != "new-rt-good" {
		t.Fatalf("good account not refreshed: %q", stored.RefreshToken)
	}
}

func TestRunOnce_NoRefreshTokenIsSkippedNotFailed(t *testing.T) {
	db := newTestDB(t)
	srv, calls := tokenServer(t, func(w http.ResponseWriter, refreshToken string) {
		writeTokenJSON(w, "x", "y", 21600)
	})
	mgr, accounts := newTestManager(db, srv)

	manual := testAccount("manual")
	manual.RefreshToken = ""
	manual.TokenExpiresAt = time.Now().Add(-time.Hour)
	if err := db.Create(manual).Error; err != nil {
		t.Fatalf("create account: %v", err)
	}

	sched := NewScheduler(mgr, accounts, SchedulerConfig{})

	// Two passes: the skip count must be stable, never turning into
	// failures or marketplace calls.
	for i := 0; i < 2; i++ {
		summary := sched.RunOnce(context.Background())
		if summary.Skipped != 1 || summary.Failed != 0 {
			t.Fatalf("pass %d: expected 1 skipped, 0 failed, got %+v", i, summary)
		}
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Fatalf("skipped accounts must not hit the marketplace, got %d calls", *calls)
	}
}

func TestRunOnce_DisabledAccountsAreExcluded(t *testing.T) {
	db := newTestDB(t)
	srv, calls := tokenServer(t, func(w http.ResponseWriter, refreshToken string) {
		writeTokenJSON(w, "x", "y", 21600)
	})
	mgr, accounts := newTestManager(db, srv)

	disabled := testAccount("disabled")
	disabled.Status = models.StatusDisabled
	disabled.NextTokenRefreshNeeded = time.Now().Add(-time.Hour)
	if err := db.Create(disabled).Error; err != nil {
		t.Fatalf("create account: %v", err)
	}

	sched := NewScheduler(mgr, accounts, SchedulerConfig{})
	summary := sched.RunOnce(context.Background())
	if summary.Selected != 0 {
		t.Fatalf("disabled accounts must not be selected, got %+v", summary)
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Fatal("disabled accounts must not be refreshed")
	}
}

func TestRunOnce_PausedAccountsStillRefresh(t *testing.T) {
	db := newTestDB(t)
	srv, _ := tokenServer(t, func(w http.ResponseWriter, refreshToken string) {
		writeTokenJSON(w, "new-access", "new-refresh", 21600)
	})
	mgr, accounts := newTestManager(db, srv)

	paused := testAccount("paused")
	paused.Status = models.StatusPaused
	paused.NextTokenRefreshNeeded = time.Now().Add(-time.Minute)
	if err := db.Create(paused).Error; err != nil {
		t.Fatalf("create account: %v", err)
	}

	sched := NewScheduler(mgr, accounts, SchedulerConfig{})
	summary := sched.RunOnce(context.Background())
	if summary.Refreshed != 1 {
		t.Fatalf("paused accounts keep their tokens warm, got %+v", summary)
	}
}
