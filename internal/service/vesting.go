package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/flexvault-system/internal/event"
	"github.com/mmeshcher/flexvault-system/internal/ledger"
	"github.com/mmeshcher/flexvault-system/internal/model"
	"github.com/mmeshcher/flexvault-system/internal/validation"
	"github.com/mmeshcher/flexvault-system/internal/vmath"
)

// CreateLock блокирует синтетические токены пользователя по графику суточных
// выплат. Существующая блокировка расширяется на указанную сумму без
// изменения графика.
func (s *Service) CreateLock(ctx context.Context, userID, amount, lockPeriodDays, dailyRelease int64) error {
	if err := s.requireActive(); err != nil {
		return err
	}

	if !validation.IsValidLockParams(amount, lockPeriodDays, dailyRelease) {
		return ErrInvalidLockParameters
	}

	balance, err := s.repo.Balance(ctx, ledger.UserAccount(userID), s.params.SyntheticAsset)
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("%w: have %d, need %d", ledger.ErrInsufficientBalance, balance, amount)
	}

	now := s.now().Unix()

	rec := model.LockRecord{
		UserID:          userID,
		Amount:          amount,
		LockPeriodDays:  lockPeriodDays,
		DailyRelease:    dailyRelease,
		StartTime:       now,
		LastReleaseTime: now,
	}

	if err := s.repo.CreateLock(ctx, rec, s.params.SyntheticAsset); err != nil {
		return err
	}

	s.publisher.Publish(event.Locked{
		ID:             uuid.New(),
		UserID:         userID,
		Amount:         amount,
		LockPeriodDays: lockPeriodDays,
		DailyRelease:   dailyRelease,
	})

	return nil
}

// ReleaseDaily выплачивает пользователю накопившуюся часть блокировки.
// Не более одной успешной выплаты за календарный день. Возвращает
// выплаченную сумму.
func (s *Service) ReleaseDaily(ctx context.Context, userID int64) (int64, error) {
	if err := s.requireActive(); err != nil {
		return 0, err
	}

	rec, err := s.repo.GetLockRecord(ctx, userID)
	if err != nil {
		return 0, err
	}

	now := s.now().Unix()

	// Полностью созревшая блокировка обслуживается через погашение, а не выплаты.
	if now >= rec.LockEndTime() {
		return 0, ErrLockPeriodEnded
	}

	if rec.LastReleaseTime/model.SecondsPerDay >= now/model.SecondsPerDay {
		return 0, ErrAlreadyReleasedToday
	}

	daysElapsed := (now - rec.LastReleaseTime) / model.SecondsPerDay
	releasable := vmath.SaturatingMul(rec.DailyRelease, daysElapsed)
	release := min(releasable, rec.Amount)
	if release == 0 {
		return 0, ErrNoAmountToRelease
	}

	newAmount := vmath.SaturatingSub(rec.Amount, release)

	err = s.repo.ApplyRelease(ctx, userID, s.params.SyntheticAsset, release, newAmount, rec.LastReleaseTime, now)
	if err != nil {
		return 0, err
	}

	s.publisher.Publish(event.Released{
		ID:        uuid.New(),
		UserID:    userID,
		Amount:    release,
		Remaining: newAmount,
	})

	return release, nil
}

// ReleaseDueLocks выплачивает суточные части всем блокировкам, у которых ещё
// не было выплаты в текущем календарном дне. Ошибка по одному пользователю не
// прерывает обход.
func (s *Service) ReleaseDueLocks(ctx context.Context, logger *zap.Logger) {
	now := s.now().Unix()

	userIDs, err := s.repo.ListReleasableLocks(ctx, now)
	if err != nil {
		logger.Error("list releasable locks", zap.Error(err))
		return
	}

	for _, userID := range userIDs {
		if _, err := s.ReleaseDaily(ctx, userID); err != nil {
			logger.Warn("daily release failed", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
}

// LockStatus возвращает сводное состояние блокировки пользователя. Чтение не
// меняет состояние.
func (s *Service) LockStatus(ctx context.Context, userID int64) (*model.LockStatus, error) {
	rec, err := s.repo.GetLockRecord(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now().Unix()
	lockEnd := rec.LockEndTime()

	status := &model.LockStatus{
		IsLocked:           now < lockEnd,
		RedemptionDeadline: rec.RedemptionDeadline(),
	}
	if status.IsLocked {
		status.RemainingLockTime = lockEnd - now
	}

	daysSinceStart := (now - rec.StartTime) / model.SecondsPerDay
	status.RedeemableAmount = min(vmath.SaturatingMul(rec.DailyRelease, daysSinceStart), rec.Amount)

	return status, nil
}

// WithinRedemptionWindow сообщает, находится ли блокировка пользователя в окне
// погашения.
func (s *Service) WithinRedemptionWindow(ctx context.Context, userID int64) (bool, error) {
	rec, err := s.repo.GetLockRecord(ctx, userID)
	if err != nil {
		return false, err
	}

	now := s.now().Unix()
	return now >= rec.LockEndTime() && now <= rec.RedemptionDeadline(), nil
}
