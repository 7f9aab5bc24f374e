// Package service реализует бизнес-логику хранилища flexvault: оценку и
// приём залога, эмиссию синтетических токенов, график разблокировки и
// погашение.
package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mmeshcher/flexvault-system/internal/event"
	"github.com/mmeshcher/flexvault-system/internal/model"
	"github.com/mmeshcher/flexvault-system/internal/repository"
)

// Ошибки бизнес-логики хранилища.
var (
	// ErrUnauthorized возвращается, если операция требует прав администратора.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrSystemPaused возвращается, если система приостановлена.
	ErrSystemPaused = errors.New("system is paused")
	// ErrAlreadyPaused возвращается при попытке приостановить уже остановленную систему.
	ErrAlreadyPaused = errors.New("system is already paused")
	// ErrNotPaused возвращается при попытке возобновить работающую систему.
	ErrNotPaused = errors.New("system is not paused")
	// ErrInvalidAmount возвращается для неположительной суммы операции.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidAssetType возвращается, если актив не совпадает с настроенным залогом.
	ErrInvalidAssetType = errors.New("invalid asset type")
	// ErrInvalidLockParameters возвращается для несогласованных параметров блокировки.
	ErrInvalidLockParameters = errors.New("invalid lock parameters")
	// ErrInvalidPrice возвращается, если оракул вернул неположительную цену.
	ErrInvalidPrice = errors.New("invalid price")
	// ErrCalculation возвращается при переполнении проверяемой арифметики.
	ErrCalculation = errors.New("calculation error")
	// ErrMintingLimitExceeded возвращается при превышении лимита эмиссии.
	ErrMintingLimitExceeded = errors.New("minting limit exceeded")
	// ErrLockPeriodNotEnded возвращается, если период блокировки ещё не истёк.
	ErrLockPeriodNotEnded = errors.New("lock period has not ended")
	// ErrLockPeriodEnded возвращается, если период блокировки уже полностью истёк.
	ErrLockPeriodEnded = errors.New("lock period has ended")
	// ErrRedemptionPeriodEnded возвращается после окончания окна погашения.
	ErrRedemptionPeriodEnded = errors.New("redemption period has ended")
	// ErrAlreadyReleasedToday возвращается при повторной выплате в тот же календарный день.
	ErrAlreadyReleasedToday = errors.New("already released today")
	// ErrNoAmountToRelease возвращается, если к выплате нет ни одной единицы.
	ErrNoAmountToRelease = errors.New("no amount to release")
	// ErrAlreadyProcessed возвращается при повторном исполнении заявки на погашение.
	ErrAlreadyProcessed = errors.New("redemption request already processed")
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	EnsureSystemState(ctx context.Context, adminUserID int64) (*model.SystemState, error)
	SetPaused(ctx context.Context, paused bool) error
	Balance(ctx context.Context, owner, asset string) (int64, error)
	GetDeposit(ctx context.Context, userID int64) (*model.UserDeposit, error)
	ApplyDeposit(ctx context.Context, userID int64, asset string, amount, valuedAmount int64) error
	ApplyMintAndSplit(ctx context.Context, userID int64, asset string, totalValue, liquidValue, lockedValue, lockPeriodDays, dailyRelease, now int64) error
	CreateLock(ctx context.Context, rec model.LockRecord, asset string) error
	GetLockRecord(ctx context.Context, userID int64) (*model.LockRecord, error)
	ListReleasableLocks(ctx context.Context, now int64) ([]int64, error)
	ApplyRelease(ctx context.Context, userID int64, asset string, releaseAmount, newAmount, prevReleaseTime, now int64) error
	CreateRedemptionRequest(ctx context.Context, userID int64, asset string, amount, now int64) error
	GetLatestRedemption(ctx context.Context, userID int64) (*model.RedemptionRequest, error)
	ExecuteRedemption(ctx context.Context, requestID, userID int64, syntheticAsset, collateralAsset string, burnAmount, payout int64) error
	ApplyHedge(ctx context.Context, userID int64, asset string, amount, now int64) error
}

// PriceCache описывает контракт чтения цен через TTL-кеш оракула.
type PriceCache interface {
	Value(ctx context.Context, asset string, kind model.FeedKind) (int64, error)
	Price(ctx context.Context, asset string) (int64, error)
}

// Params содержит доменные параметры хранилища.
type Params struct {
	CollateralAsset    string
	CollateralDecimals int
	SyntheticAsset     string
	MintingLimit       int64
	ConversionRate     int64
}

// Service содержит бизнес-логику хранилища flexvault.
type Service struct {
	repo      Repository
	prices    PriceCache
	publisher event.Publisher
	params    Params
	now       func() time.Time

	mu          sync.Mutex
	adminUserID int64
	isPaused    bool
}

// NewService создаёт сервис с указанным репозиторием, кешем цен и издателем событий.
func NewService(repo Repository, prices PriceCache, publisher event.Publisher, params Params) *Service {
	return &Service{
		repo:      repo,
		prices:    prices,
		publisher: publisher,
		params:    params,
		now:       time.Now,
	}
}

// WithClock заменяет источник времени сервиса. Используется в тестах.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// Bootstrap создаёт учётную запись администратора при первом запуске и
// загружает сохранённое состояние системы.
func (s *Service) Bootstrap(ctx context.Context, adminLogin, adminPassword string) error {
	adminID, err := s.repo.CreateUser(ctx, adminLogin, hashPassword(adminLogin, adminPassword))
	if err != nil {
		if !errors.Is(err, repository.ErrUserExists) {
			return fmt.Errorf("create admin: %w", err)
		}
		u, err := s.repo.GetUserByLogin(ctx, adminLogin)
		if err != nil {
			return fmt.Errorf("get admin: %w", err)
		}
		adminID = u.ID
	}

	state, err := s.repo.EnsureSystemState(ctx, adminID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.adminUserID = state.AdminUserID
	s.isPaused = state.IsPaused
	s.mu.Unlock()

	return nil
}

// RegisterUser регистрирует нового пользователя.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль пользователя и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(login, password)
	if hex.EncodeToString(hashed) != hex.EncodeToString(u.PasswordHash) {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// requireActive проверяет, что система не приостановлена.
func (s *Service) requireActive() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isPaused {
		return ErrSystemPaused
	}
	return nil
}

// requireAdmin проверяет, что вызывающий является администратором системы.
func (s *Service) requireAdmin(callerID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if callerID != s.adminUserID {
		return ErrUnauthorized
	}
	return nil
}

// Pause приостанавливает все мутирующие операции. Повторная остановка отклоняется.
func (s *Service) Pause(ctx context.Context, callerID int64) error {
	if err := s.requireAdmin(callerID); err != nil {
		return err
	}

	s.mu.Lock()
	if s.isPaused {
		s.mu.Unlock()
		return ErrAlreadyPaused
	}
	s.mu.Unlock()

	if err := s.repo.SetPaused(ctx, true); err != nil {
		return err
	}

	s.mu.Lock()
	s.isPaused = true
	s.mu.Unlock()

	s.publisher.Publish(event.PauseToggled{ID: uuid.New(), AdminID: callerID, IsPaused: true})
	return nil
}

// Resume возобновляет работу системы. Возобновление работающей системы отклоняется.
func (s *Service) Resume(ctx context.Context, callerID int64) error {
	if err := s.requireAdmin(callerID); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.isPaused {
		s.mu.Unlock()
		return ErrNotPaused
	}
	s.mu.Unlock()

	if err := s.repo.SetPaused(ctx, false); err != nil {
		return err
	}

	s.mu.Lock()
	s.isPaused = false
	s.mu.Unlock()

	s.publisher.Publish(event.PauseToggled{ID: uuid.New(), AdminID: callerID, IsPaused: false})
	return nil
}

// FeedValue возвращает значение ценового фида через TTL-кеш.
func (s *Service) FeedValue(ctx context.Context, asset string, kind model.FeedKind) (int64, error) {
	return s.prices.Value(ctx, asset, kind)
}
