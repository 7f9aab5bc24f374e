// Package ledger реализует учёт остатков взаимозаменяемых активов.
// Переводы, эмиссия и сжигание выполняются внутри транзакции вызывающей
// стороны и либо применяются целиком, либо не применяются вовсе.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Ошибки операций леджера.
var (
	// ErrInsufficientBalance возвращается при списании суммы, превышающей остаток.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrUnauthorizedMint возвращается при попытке эмиссии или сжигания без полномочий хранилища.
	ErrUnauthorizedMint = errors.New("mint authority mismatch")
	// ErrInvalidAmount возвращается для неположительных сумм.
	ErrInvalidAmount = errors.New("amount must be positive")
)

// Счета, принадлежащие самому хранилищу. Пользовательские счета строятся
// через UserAccount и никогда не пересекаются с ними.
const (
	CollateralVault = "vault:collateral"
	MintVault       = "vault:mint"
	LockVault       = "vault:lock"
	RedemptionVault = "vault:redemption"
	HedgingVault    = "vault:hedging"
)

// UserAccount возвращает имя счёта пользователя в леджере.
func UserAccount(userID int64) string {
	return fmt.Sprintf("user:%d", userID)
}

// Authority — секрет полномочий эмиссии. Он известен только компонентам,
// созданным при старте процесса, и никогда не принимается от внешних вызовов.
type Authority string

// Ledger выполняет операции над остатками внутри переданной транзакции.
type Ledger struct {
	authority Authority
}

// New создаёт леджер с указанным секретом полномочий эмиссии.
func New(authority Authority) *Ledger {
	return &Ledger{authority: authority}
}

// Balance возвращает остаток счёта по активу.
func (l *Ledger) Balance(ctx context.Context, q querier, owner, asset string) (int64, error) {
	var amount int64
	err := q.QueryRow(ctx,
		`SELECT COALESCE((SELECT amount FROM balances WHERE owner = $1 AND asset = $2), 0)`,
		owner, asset,
	).Scan(&amount)
	if err != nil {
		return 0, fmt.Errorf("select balance: %w", err)
	}
	return amount, nil
}

// Transfer атомарно переводит amount актива между счетами.
func (l *Ledger) Transfer(ctx context.Context, tx pgx.Tx, from, to, asset string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if err := l.debit(ctx, tx, from, asset, amount); err != nil {
		return err
	}
	return l.credit(ctx, tx, to, asset, amount)
}

// Mint выпускает amount единиц актива на счёт to. Требует полномочий хранилища.
func (l *Ledger) Mint(ctx context.Context, tx pgx.Tx, authority Authority, to, asset string, amount int64) error {
	if authority != l.authority {
		return ErrUnauthorizedMint
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return l.credit(ctx, tx, to, asset, amount)
}

// Burn уничтожает amount единиц актива со счёта from. Требует полномочий хранилища.
func (l *Ledger) Burn(ctx context.Context, tx pgx.Tx, authority Authority, from, asset string, amount int64) error {
	if authority != l.authority {
		return ErrUnauthorizedMint
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return l.debit(ctx, tx, from, asset, amount)
}

// Authority возвращает секрет полномочий леджера. Доступен только тому, кто
// владеет самим экземпляром.
func (l *Ledger) Authority() Authority {
	return l.authority
}

func (l *Ledger) debit(ctx context.Context, tx pgx.Tx, owner, asset string, amount int64) error {
	// Строка блокируется до конца транзакции, чтобы параллельные списания
	// не увели остаток в минус.
	var current int64
	err := tx.QueryRow(ctx,
		`SELECT amount FROM balances WHERE owner = $1 AND asset = $2 FOR UPDATE`,
		owner, asset,
	).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: %s has no %s", ErrInsufficientBalance, owner, asset)
		}
		return fmt.Errorf("lock balance: %w", err)
	}

	if current < amount {
		return fmt.Errorf("%w: %s has %d %s, need %d", ErrInsufficientBalance, owner, current, asset, amount)
	}

	_, err = tx.Exec(ctx,
		`UPDATE balances SET amount = amount - $3 WHERE owner = $1 AND asset = $2`,
		owner, asset, amount,
	)
	if err != nil {
		return fmt.Errorf("debit balance: %w", err)
	}
	return nil
}

func (l *Ledger) credit(ctx context.Context, tx pgx.Tx, owner, asset string, amount int64) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO balances (owner, asset, amount) VALUES ($1, $2, $3)
		 ON CONFLICT (owner, asset) DO UPDATE SET amount = balances.amount + $3`,
		owner, asset, amount,
	)
	if err != nil {
		return fmt.Errorf("credit balance: %w", err)
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}
