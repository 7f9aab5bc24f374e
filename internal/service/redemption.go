package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mmeshcher/flexvault-system/internal/event"
	"github.com/mmeshcher/flexvault-system/internal/ledger"
	"github.com/mmeshcher/flexvault-system/internal/repository"
	"github.com/mmeshcher/flexvault-system/internal/validation"
)

// InitiateRedeem создаёт заявку на погашение синтетических токенов в пределах
// окна погашения и переводит заявленную сумму в хранилище погашений.
func (s *Service) InitiateRedeem(ctx context.Context, userID, amount int64) error {
	if err := s.requireActive(); err != nil {
		return err
	}

	if !validation.IsValidAmount(amount) {
		return ErrInvalidAmount
	}

	rec, err := s.repo.GetLockRecord(ctx, userID)
	if err != nil {
		return err
	}

	now := s.now().Unix()

	if now < rec.LockEndTime() {
		return ErrLockPeriodNotEnded
	}
	if now > rec.RedemptionDeadline() {
		return ErrRedemptionPeriodEnded
	}

	balance, err := s.repo.Balance(ctx, ledger.UserAccount(userID), s.params.SyntheticAsset)
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("%w: have %d, need %d", ledger.ErrInsufficientBalance, balance, amount)
	}

	if err := s.repo.CreateRedemptionRequest(ctx, userID, s.params.SyntheticAsset, amount, now); err != nil {
		return err
	}

	s.publisher.Publish(event.RedemptionInitiated{
		ID:          uuid.New(),
		UserID:      userID,
		Amount:      amount,
		RequestTime: now,
	})

	return nil
}

// ExecuteRedeem исполняет необработанную заявку пользователя: сжигает
// синтетические токены из хранилища погашений и выплачивает залог по курсу
// конвертации. Возвращает размер выплаты.
func (s *Service) ExecuteRedeem(ctx context.Context, userID int64) (int64, error) {
	if err := s.requireActive(); err != nil {
		return 0, err
	}

	req, err := s.repo.GetLatestRedemption(ctx, userID)
	if err != nil {
		return 0, err
	}
	if req.IsProcessed {
		return 0, ErrAlreadyProcessed
	}

	// Целочисленное деление: остаток меньше курса конвертации не выплачивается.
	payout := req.Amount / s.params.ConversionRate

	err = s.repo.ExecuteRedemption(ctx, req.ID, userID, s.params.SyntheticAsset, s.params.CollateralAsset, req.Amount, payout)
	if err != nil {
		if errors.Is(err, repository.ErrRequestProcessed) {
			return 0, ErrAlreadyProcessed
		}
		return 0, err
	}

	s.publisher.Publish(event.RedemptionExecuted{
		ID:     uuid.New(),
		UserID: userID,
		Amount: req.Amount,
		Payout: payout,
	})

	return payout, nil
}

// CheckRedeemEligibility сообщает, может ли пользователь начать погашение:
// окно погашения открыто и у него есть ликвидные синтетические токены.
func (s *Service) CheckRedeemEligibility(ctx context.Context, userID int64) (bool, error) {
	within, err := s.WithinRedemptionWindow(ctx, userID)
	if err != nil {
		return false, err
	}
	if !within {
		return false, nil
	}

	balance, err := s.repo.Balance(ctx, ledger.UserAccount(userID), s.params.SyntheticAsset)
	if err != nil {
		return false, err
	}

	return balance > 0, nil
}
