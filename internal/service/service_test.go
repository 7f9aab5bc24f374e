package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mmeshcher/flexvault-system/internal/event"
	"github.com/mmeshcher/flexvault-system/internal/model"
	"github.com/mmeshcher/flexvault-system/internal/repository"
)

type stubRepo struct {
	createUserID  int64
	createUserErr error

	getUser    *model.User
	getUserErr error

	state    *model.SystemState
	stateErr error

	setPausedErr error

	balance    int64
	balanceErr error

	deposit    *model.UserDeposit
	depositErr error

	applyDepositErr error
	appliedDeposit  struct {
		userID, amount, valued int64
		asset                  string
	}

	applyMintErr error
	appliedMint  struct {
		userID, total, liquid, locked, periodDays, dailyRelease, now int64
	}

	createLockErr error
	createdLock   *model.LockRecord

	lockRecord    *model.LockRecord
	lockRecordErr error

	releasableIDs []int64
	releasableErr error

	applyReleaseErr error
	appliedRelease  struct {
		userID, release, newAmount, prevTime, now int64
	}

	createRedeemErr error
	createdRedeem   struct {
		userID, amount, now int64
	}

	latestRedeem    *model.RedemptionRequest
	latestRedeemErr error

	executeRedeemErr error
	executedRedeem   struct {
		requestID, userID, burn, payout int64
	}

	applyHedgeErr error
}

func (s *stubRepo) Close() error { return nil }

func (s *stubRepo) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	return s.createUserID, s.createUserErr
}

func (s *stubRepo) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	return s.getUser, s.getUserErr
}

func (s *stubRepo) EnsureSystemState(ctx context.Context, adminUserID int64) (*model.SystemState, error) {
	if s.state == nil {
		return &model.SystemState{AdminUserID: adminUserID}, s.stateErr
	}
	return s.state, s.stateErr
}

func (s *stubRepo) SetPaused(ctx context.Context, paused bool) error {
	return s.setPausedErr
}

func (s *stubRepo) Balance(ctx context.Context, owner, asset string) (int64, error) {
	return s.balance, s.balanceErr
}

func (s *stubRepo) GetDeposit(ctx context.Context, userID int64) (*model.UserDeposit, error) {
	return s.deposit, s.depositErr
}

func (s *stubRepo) ApplyDeposit(ctx context.Context, userID int64, asset string, amount, valuedAmount int64) error {
	s.appliedDeposit.userID = userID
	s.appliedDeposit.asset = asset
	s.appliedDeposit.amount = amount
	s.appliedDeposit.valued = valuedAmount
	return s.applyDepositErr
}

func (s *stubRepo) ApplyMintAndSplit(ctx context.Context, userID int64, asset string, totalValue, liquidValue, lockedValue, lockPeriodDays, dailyRelease, now int64) error {
	s.appliedMint.userID = userID
	s.appliedMint.total = totalValue
	s.appliedMint.liquid = liquidValue
	s.appliedMint.locked = lockedValue
	s.appliedMint.periodDays = lockPeriodDays
	s.appliedMint.dailyRelease = dailyRelease
	s.appliedMint.now = now
	return s.applyMintErr
}

func (s *stubRepo) CreateLock(ctx context.Context, rec model.LockRecord, asset string) error {
	s.createdLock = &rec
	return s.createLockErr
}

func (s *stubRepo) GetLockRecord(ctx context.Context, userID int64) (*model.LockRecord, error) {
	return s.lockRecord, s.lockRecordErr
}

func (s *stubRepo) ListReleasableLocks(ctx context.Context, now int64) ([]int64, error) {
	return s.releasableIDs, s.releasableErr
}

func (s *stubRepo) ApplyRelease(ctx context.Context, userID int64, asset string, releaseAmount, newAmount, prevReleaseTime, now int64) error {
	s.appliedRelease.userID = userID
	s.appliedRelease.release = releaseAmount
	s.appliedRelease.newAmount = newAmount
	s.appliedRelease.prevTime = prevReleaseTime
	s.appliedRelease.now = now
	return s.applyReleaseErr
}

func (s *stubRepo) CreateRedemptionRequest(ctx context.Context, userID int64, asset string, amount, now int64) error {
	s.createdRedeem.userID = userID
	s.createdRedeem.amount = amount
	s.createdRedeem.now = now
	return s.createRedeemErr
}

func (s *stubRepo) GetLatestRedemption(ctx context.Context, userID int64) (*model.RedemptionRequest, error) {
	return s.latestRedeem, s.latestRedeemErr
}

func (s *stubRepo) ExecuteRedemption(ctx context.Context, requestID, userID int64, syntheticAsset, collateralAsset string, burnAmount, payout int64) error {
	s.executedRedeem.requestID = requestID
	s.executedRedeem.userID = userID
	s.executedRedeem.burn = burnAmount
	s.executedRedeem.payout = payout
	return s.executeRedeemErr
}

func (s *stubRepo) ApplyHedge(ctx context.Context, userID int64, asset string, amount, now int64) error {
	return s.applyHedgeErr
}

type stubPrices struct {
	price    int64
	priceErr error
}

func (s *stubPrices) Value(ctx context.Context, asset string, kind model.FeedKind) (int64, error) {
	return s.price, s.priceErr
}

func (s *stubPrices) Price(ctx context.Context, asset string) (int64, error) {
	return s.price, s.priceErr
}

type recordingPublisher struct {
	events []event.Event
}

func (p *recordingPublisher) Publish(e event.Event) {
	p.events = append(p.events, e)
}

func testParams() Params {
	return Params{
		CollateralAsset:    "JupSOL",
		CollateralDecimals: 6,
		SyntheticAsset:     "xxUSD",
		MintingLimit:       1_000_000_000_000,
		ConversionRate:     1,
	}
}

func newTestService(repo *stubRepo, prices *stubPrices, nowUnix int64) (*Service, *recordingPublisher) {
	pub := &recordingPublisher{}
	svc := NewService(repo, prices, pub, testParams())
	svc.WithClock(func() time.Time { return time.Unix(nowUnix, 0) })
	return svc, pub
}

func TestHashPasswordDeterministic(t *testing.T) {
	a := hashPassword("user", "pass")
	b := hashPassword("user", "pass")
	c := hashPassword("user", "other")

	if string(a) != string(b) {
		t.Fatalf("hashPassword must be deterministic, got %x and %x", a, b)
	}
	if string(a) == string(c) {
		t.Fatalf("different passwords must produce different hashes")
	}
}

func TestRegisterUser_PropagatesDuplicateError(t *testing.T) {
	repo := &stubRepo{
		createUserErr: repository.ErrUserExists,
	}
	svc, _ := newTestService(repo, &stubPrices{}, 0)

	_, err := svc.RegisterUser(context.Background(), "login", "pass")
	if !errors.Is(err, repository.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}
}

func TestAuthenticateUser_InvalidCredentials(t *testing.T) {
	repo := &stubRepo{
		getUser: &model.User{
			ID:           1,
			Login:        "user",
			PasswordHash: hashPassword("user", "correct"),
		},
	}
	svc, _ := newTestService(repo, &stubPrices{}, 0)

	_, err := svc.AuthenticateUser(context.Background(), "user", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestBootstrap_LoadsPersistedState(t *testing.T) {
	repo := &stubRepo{
		createUserErr: repository.ErrUserExists,
		getUser: &model.User{
			ID:           7,
			Login:        "admin",
			PasswordHash: hashPassword("admin", "admin"),
		},
		state: &model.SystemState{AdminUserID: 7, IsPaused: true},
	}
	svc, _ := newTestService(repo, &stubPrices{}, 0)

	if err := svc.Bootstrap(context.Background(), "admin", "admin"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	if err := svc.requireActive(); !errors.Is(err, ErrSystemPaused) {
		t.Fatalf("expected paused state after bootstrap, got %v", err)
	}
	if err := svc.requireAdmin(7); err != nil {
		t.Fatalf("admin id not loaded: %v", err)
	}
}

func TestPause_Transitions(t *testing.T) {
	repo := &stubRepo{state: &model.SystemState{AdminUserID: 1}}
	svc, pub := newTestService(repo, &stubPrices{}, 0)
	if err := svc.Bootstrap(context.Background(), "admin", "admin"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	if err := svc.Pause(context.Background(), 2); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("non-admin pause: got %v, want ErrUnauthorized", err)
	}

	if err := svc.Resume(context.Background(), 1); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("resume of running system: got %v, want ErrNotPaused", err)
	}

	if err := svc.Pause(context.Background(), 1); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if err := svc.Pause(context.Background(), 1); !errors.Is(err, ErrAlreadyPaused) {
		t.Fatalf("second pause: got %v, want ErrAlreadyPaused", err)
	}

	if _, err := svc.Deposit(context.Background(), 1, "JupSOL", 100); !errors.Is(err, ErrSystemPaused) {
		t.Fatalf("deposit while paused: got %v, want ErrSystemPaused", err)
	}

	if err := svc.Resume(context.Background(), 1); err != nil {
		t.Fatalf("resume: %v", err)
	}

	if len(pub.events) != 2 {
		t.Fatalf("expected 2 pause events, got %d", len(pub.events))
	}
}
