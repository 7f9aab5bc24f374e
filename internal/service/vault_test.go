package service

import (
	"context"
	"errors"
	"testing"

	"github.com/mmeshcher/flexvault-system/internal/ledger"
)

func TestDeposit_ValuesCollateralAtOraclePrice(t *testing.T) {
	// 1000 единиц 6-десятичного актива по цене 1_000_000 оцениваются в 1000.
	repo := &stubRepo{balance: 10_000}
	prices := &stubPrices{price: 1_000_000}
	svc, pub := newTestService(repo, prices, 1_700_000_000)

	valued, err := svc.Deposit(context.Background(), 42, "JupSOL", 1000)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if valued != 1000 {
		t.Fatalf("valued = %d, want 1000", valued)
	}
	if repo.appliedDeposit.amount != 1000 || repo.appliedDeposit.valued != 1000 {
		t.Fatalf("applied deposit = %+v", repo.appliedDeposit)
	}
	if len(pub.events) != 1 || pub.events[0].EventType() != "vault.deposited" {
		t.Fatalf("expected single deposited event, got %v", pub.events)
	}
}

func TestDeposit_RoundsValueDown(t *testing.T) {
	repo := &stubRepo{balance: 10}
	prices := &stubPrices{price: 1_500_000}
	svc, _ := newTestService(repo, prices, 1_700_000_000)

	// 3 * 1_500_000 / 10^6 = 4.5, усечение до 4.
	valued, err := svc.Deposit(context.Background(), 42, "JupSOL", 3)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if valued != 4 {
		t.Fatalf("valued = %d, want 4", valued)
	}
}

func TestDeposit_Validation(t *testing.T) {
	repo := &stubRepo{balance: 10_000}
	prices := &stubPrices{price: 1_000_000}
	svc, _ := newTestService(repo, prices, 1_700_000_000)

	if _, err := svc.Deposit(context.Background(), 42, "JupSOL", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: got %v, want ErrInvalidAmount", err)
	}
	if _, err := svc.Deposit(context.Background(), 42, "JupSOL", -5); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("negative amount: got %v, want ErrInvalidAmount", err)
	}
	if _, err := svc.Deposit(context.Background(), 42, "mSOL", 100); !errors.Is(err, ErrInvalidAssetType) {
		t.Fatalf("wrong asset: got %v, want ErrInvalidAssetType", err)
	}
}

func TestDeposit_RejectsNonPositivePrice(t *testing.T) {
	repo := &stubRepo{balance: 10_000}
	prices := &stubPrices{price: 0}
	svc, _ := newTestService(repo, prices, 1_700_000_000)

	if _, err := svc.Deposit(context.Background(), 42, "JupSOL", 100); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("zero price: got %v, want ErrInvalidPrice", err)
	}
}

func TestDeposit_InsufficientBalance(t *testing.T) {
	repo := &stubRepo{balance: 50}
	prices := &stubPrices{price: 1_000_000}
	svc, _ := newTestService(repo, prices, 1_700_000_000)

	if _, err := svc.Deposit(context.Background(), 42, "JupSOL", 100); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}
}

func TestMintAndSplit_SplitsLiquidAndLocked(t *testing.T) {
	repo := &stubRepo{}
	svc, pub := newTestService(repo, &stubPrices{}, 1_700_000_000)

	total, liquid, err := svc.MintAndSplit(context.Background(), 42, 1000, 700, 10, 70)
	if err != nil {
		t.Fatalf("mint and split: %v", err)
	}
	if total != 1000 || liquid != 300 {
		t.Fatalf("total = %d, liquid = %d, want 1000 and 300", total, liquid)
	}
	if repo.appliedMint.locked != 700 || repo.appliedMint.liquid != 300 {
		t.Fatalf("applied mint = %+v", repo.appliedMint)
	}
	if len(pub.events) != 2 {
		t.Fatalf("expected minted and locked events, got %d", len(pub.events))
	}
}

func TestMintAndSplit_FullyLiquid(t *testing.T) {
	repo := &stubRepo{}
	svc, pub := newTestService(repo, &stubPrices{}, 1_700_000_000)

	total, liquid, err := svc.MintAndSplit(context.Background(), 42, 500, 0, 0, 0)
	if err != nil {
		t.Fatalf("mint and split: %v", err)
	}
	if total != 500 || liquid != 500 {
		t.Fatalf("total = %d, liquid = %d, want 500 and 500", total, liquid)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected only minted event without lock, got %d", len(pub.events))
	}
}

func TestMintAndSplit_LockedExceedsTotal(t *testing.T) {
	svc, _ := newTestService(&stubRepo{}, &stubPrices{}, 1_700_000_000)

	_, _, err := svc.MintAndSplit(context.Background(), 42, 100, 200, 10, 20)
	if !errors.Is(err, ErrCalculation) {
		t.Fatalf("got %v, want ErrCalculation", err)
	}
}

func TestMintAndSplit_MintingLimit(t *testing.T) {
	svc, _ := newTestService(&stubRepo{}, &stubPrices{}, 1_700_000_000)

	_, _, err := svc.MintAndSplit(context.Background(), 42, 2_000_000_000_000, 0, 0, 0)
	if !errors.Is(err, ErrMintingLimitExceeded) {
		t.Fatalf("got %v, want ErrMintingLimitExceeded", err)
	}
}

func TestMintAndSplit_InvalidLockParams(t *testing.T) {
	svc, _ := newTestService(&stubRepo{}, &stubPrices{}, 1_700_000_000)

	// График 71 * 10 превышает блокируемую сумму 700.
	_, _, err := svc.MintAndSplit(context.Background(), 42, 1000, 700, 10, 71)
	if !errors.Is(err, ErrInvalidLockParameters) {
		t.Fatalf("got %v, want ErrInvalidLockParameters", err)
	}

	if _, _, err := svc.MintAndSplit(context.Background(), 42, 1000, 700, 10, 69); err != nil {
		t.Fatalf("slower schedule must be allowed, got %v", err)
	}
}

func TestHedge_RequiresBalance(t *testing.T) {
	repo := &stubRepo{balance: 10}
	svc, _ := newTestService(repo, &stubPrices{}, 1_700_000_000)

	if err := svc.Hedge(context.Background(), 42, 100); !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}

	repo.balance = 100
	if err := svc.Hedge(context.Background(), 42, 100); err != nil {
		t.Fatalf("hedge: %v", err)
	}
}
