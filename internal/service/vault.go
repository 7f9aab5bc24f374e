package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mmeshcher/flexvault-system/internal/event"
	"github.com/mmeshcher/flexvault-system/internal/ledger"
	"github.com/mmeshcher/flexvault-system/internal/validation"
	"github.com/mmeshcher/flexvault-system/internal/vmath"
)

// Deposit принимает залог пользователя, оценивает его по цене оракула и
// накапливает оценённую стоимость в записи депозита. Возвращает оценённую
// стоимость внесённой суммы.
func (s *Service) Deposit(ctx context.Context, userID int64, asset string, amount int64) (int64, error) {
	if err := s.requireActive(); err != nil {
		return 0, err
	}

	if !validation.IsValidAmount(amount) {
		return 0, ErrInvalidAmount
	}
	if asset != s.params.CollateralAsset {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAssetType, asset)
	}

	price, err := s.prices.Price(ctx, asset)
	if err != nil {
		return 0, err
	}
	if price <= 0 {
		return 0, ErrInvalidPrice
	}

	pow, err := vmath.Pow10(s.params.CollateralDecimals)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrCalculation, err)
	}
	valued, err := vmath.MulDiv(amount, price, pow)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrCalculation, err)
	}

	balance, err := s.repo.Balance(ctx, ledger.UserAccount(userID), asset)
	if err != nil {
		return 0, err
	}
	if balance < amount {
		return 0, fmt.Errorf("%w: have %d, need %d", ledger.ErrInsufficientBalance, balance, amount)
	}

	if err := s.repo.ApplyDeposit(ctx, userID, asset, amount, valued); err != nil {
		if errors.Is(err, vmath.ErrOverflow) {
			return 0, fmt.Errorf("%w: %s", ErrCalculation, err)
		}
		return 0, err
	}

	s.publisher.Publish(event.Deposited{
		ID:           uuid.New(),
		UserID:       userID,
		Asset:        asset,
		Amount:       amount,
		ValuedAmount: valued,
	})

	return valued, nil
}

// MintAndSplit выпускает totalValue синтетических токенов, выдаёт пользователю
// ликвидную часть и блокирует остаток по графику суточных выплат. Возвращает
// выпущенную сумму и ликвидную часть пользователя.
//
// Эмиссия и блокировка выполняются строго в этом порядке: блокировка не может
// появиться без успешной эмиссии в том же вызове.
func (s *Service) MintAndSplit(ctx context.Context, userID int64, totalValue, lockedValue, lockPeriodDays, dailyRelease int64) (int64, int64, error) {
	if err := s.requireActive(); err != nil {
		return 0, 0, err
	}

	if !validation.IsValidAmount(totalValue) {
		return 0, 0, ErrInvalidAmount
	}

	liquid, err := vmath.CheckedSub(totalValue, lockedValue)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: locked exceeds total", ErrCalculation)
	}

	if totalValue > s.params.MintingLimit {
		return 0, 0, fmt.Errorf("%w: %d > %d", ErrMintingLimitExceeded, totalValue, s.params.MintingLimit)
	}

	if lockedValue > 0 && !validation.IsValidLockParams(lockedValue, lockPeriodDays, dailyRelease) {
		return 0, 0, ErrInvalidLockParameters
	}

	now := s.now().Unix()

	err = s.repo.ApplyMintAndSplit(ctx, userID, s.params.SyntheticAsset, totalValue, liquid, lockedValue, lockPeriodDays, dailyRelease, now)
	if err != nil {
		if errors.Is(err, vmath.ErrOverflow) {
			return 0, 0, fmt.Errorf("%w: %s", ErrCalculation, err)
		}
		return 0, 0, err
	}

	s.publisher.Publish(event.MintedAndDistributed{
		ID:         uuid.New(),
		UserID:     userID,
		Total:      totalValue,
		Locked:     lockedValue,
		UserAmount: liquid,
	})
	if lockedValue > 0 {
		s.publisher.Publish(event.Locked{
			ID:             uuid.New(),
			UserID:         userID,
			Amount:         lockedValue,
			LockPeriodDays: lockPeriodDays,
			DailyRelease:   dailyRelease,
		})
	}

	return totalValue, liquid, nil
}

// Hedge переводит синтетические токены пользователя в хеджирующее хранилище и
// фиксирует запись о завершённой операции. Стратегия упрощена до
// «внесение — и есть хеджирование».
func (s *Service) Hedge(ctx context.Context, userID int64, amount int64) error {
	if err := s.requireActive(); err != nil {
		return err
	}

	if !validation.IsValidAmount(amount) {
		return ErrInvalidAmount
	}

	balance, err := s.repo.Balance(ctx, ledger.UserAccount(userID), s.params.SyntheticAsset)
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("%w: have %d, need %d", ledger.ErrInsufficientBalance, balance, amount)
	}

	now := s.now().Unix()

	if err := s.repo.ApplyHedge(ctx, userID, s.params.SyntheticAsset, amount, now); err != nil {
		return err
	}

	s.publisher.Publish(event.HedgingCompleted{
		ID:        uuid.New(),
		UserID:    userID,
		Amount:    amount,
		Timestamp: now,
	})

	return nil
}
