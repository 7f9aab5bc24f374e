package service

import (
	"context"
	"errors"
	"testing"

	"github.com/mmeshcher/flexvault-system/internal/ledger"
	"github.com/mmeshcher/flexvault-system/internal/model"
	"github.com/mmeshcher/flexvault-system/internal/repository"
)

func maturedLock() *model.LockRecord {
	return &model.LockRecord{
		UserID:          42,
		Amount:          0,
		LockPeriodDays:  10,
		DailyRelease:    70,
		StartTime:       baseTime,
		LastReleaseTime: baseTime + 9*model.SecondsPerDay,
	}
}

func TestInitiateRedeem_BeforeLockEnd(t *testing.T) {
	repo := &stubRepo{lockRecord: maturedLock(), balance: 700}
	svc, _ := newTestService(repo, &stubPrices{}, maturedLock().LockEndTime()-1)

	err := svc.InitiateRedeem(context.Background(), 42, 700)
	if !errors.Is(err, ErrLockPeriodNotEnded) {
		t.Fatalf("got %v, want ErrLockPeriodNotEnded", err)
	}
}

func TestInitiateRedeem_AfterWindow(t *testing.T) {
	repo := &stubRepo{lockRecord: maturedLock(), balance: 700}
	svc, _ := newTestService(repo, &stubPrices{}, maturedLock().RedemptionDeadline()+1)

	err := svc.InitiateRedeem(context.Background(), 42, 700)
	if !errors.Is(err, ErrRedemptionPeriodEnded) {
		t.Fatalf("got %v, want ErrRedemptionPeriodEnded", err)
	}
}

func TestInitiateRedeem_WithinWindow(t *testing.T) {
	repo := &stubRepo{lockRecord: maturedLock(), balance: 700}
	now := maturedLock().LockEndTime()
	svc, pub := newTestService(repo, &stubPrices{}, now)

	if err := svc.InitiateRedeem(context.Background(), 42, 700); err != nil {
		t.Fatalf("initiate redeem: %v", err)
	}
	if repo.createdRedeem.amount != 700 || repo.createdRedeem.now != now {
		t.Fatalf("created request = %+v", repo.createdRedeem)
	}
	if len(pub.events) != 1 || pub.events[0].EventType() != "redemption.initiated" {
		t.Fatalf("expected initiated event, got %v", pub.events)
	}
}

func TestInitiateRedeem_InsufficientBalance(t *testing.T) {
	repo := &stubRepo{lockRecord: maturedLock(), balance: 10}
	svc, _ := newTestService(repo, &stubPrices{}, maturedLock().LockEndTime())

	err := svc.InitiateRedeem(context.Background(), 42, 700)
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
}

func TestInitiateRedeem_PropagatesPendingConflict(t *testing.T) {
	repo := &stubRepo{
		lockRecord:      maturedLock(),
		balance:         700,
		createRedeemErr: repository.ErrRequestPending,
	}
	svc, _ := newTestService(repo, &stubPrices{}, maturedLock().LockEndTime())

	err := svc.InitiateRedeem(context.Background(), 42, 700)
	if !errors.Is(err, repository.ErrRequestPending) {
		t.Fatalf("got %v, want ErrRequestPending", err)
	}
}

func TestExecuteRedeem_PaysOutAtConversionRate(t *testing.T) {
	repo := &stubRepo{
		latestRedeem: &model.RedemptionRequest{ID: 5, UserID: 42, Amount: 700},
	}
	pub := &recordingPublisher{}
	params := testParams()
	params.ConversionRate = 3
	svc := NewService(repo, &stubPrices{}, pub, params)

	payout, err := svc.ExecuteRedeem(context.Background(), 42)
	if err != nil {
		t.Fatalf("execute redeem: %v", err)
	}
	// 700 / 3 = 233, остаток меньше курса не выплачивается.
	if payout != 233 {
		t.Fatalf("payout = %d, want 233", payout)
	}
	if repo.executedRedeem.burn != 700 || repo.executedRedeem.payout != 233 {
		t.Fatalf("executed = %+v", repo.executedRedeem)
	}
	if len(pub.events) != 1 || pub.events[0].EventType() != "redemption.executed" {
		t.Fatalf("expected executed event, got %v", pub.events)
	}
}

func TestExecuteRedeem_AlreadyProcessed(t *testing.T) {
	repo := &stubRepo{
		latestRedeem: &model.RedemptionRequest{ID: 5, UserID: 42, Amount: 700, IsProcessed: true},
	}
	svc, _ := newTestService(repo, &stubPrices{}, 0)

	_, err := svc.ExecuteRedeem(context.Background(), 42)
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("got %v, want ErrAlreadyProcessed", err)
	}
}

func TestExecuteRedeem_ConcurrentProcessingConflict(t *testing.T) {
	repo := &stubRepo{
		latestRedeem:     &model.RedemptionRequest{ID: 5, UserID: 42, Amount: 700},
		executeRedeemErr: repository.ErrRequestProcessed,
	}
	svc, _ := newTestService(repo, &stubPrices{}, 0)

	_, err := svc.ExecuteRedeem(context.Background(), 42)
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Fatalf("got %v, want ErrAlreadyProcessed", err)
	}
}

func TestCheckRedeemEligibility(t *testing.T) {
	cases := []struct {
		name    string
		now     int64
		balance int64
		want    bool
	}{
		{name: "within window with balance", now: maturedLock().LockEndTime(), balance: 100, want: true},
		{name: "within window without balance", now: maturedLock().LockEndTime(), balance: 0, want: false},
		{name: "outside window", now: maturedLock().LockEndTime() - 1, balance: 100, want: false},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			repo := &stubRepo{lockRecord: maturedLock(), balance: tt.balance}
			svc, _ := newTestService(repo, &stubPrices{}, tt.now)

			got, err := svc.CheckRedeemEligibility(context.Background(), 42)
			if err != nil {
				t.Fatalf("eligibility: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
		})
	}
}
