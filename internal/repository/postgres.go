// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/flexvault-system/internal/ledger"
	"github.com/mmeshcher/flexvault-system/internal/model"
	"github.com/mmeshcher/flexvault-system/internal/vmath"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrLockNotFound возвращается, если у пользователя нет записи блокировки.
	ErrLockNotFound = errors.New("lock record not found")
	// ErrLockConflict возвращается, если запись блокировки изменилась между чтением и применением.
	ErrLockConflict = errors.New("lock record changed concurrently")
	// ErrRequestNotFound возвращается, если у пользователя нет заявок на погашение.
	ErrRequestNotFound = errors.New("redemption request not found")
	// ErrRequestPending возвращается, если у пользователя уже есть необработанная заявка.
	ErrRequestPending = errors.New("redemption request already pending")
	// ErrRequestProcessed возвращается при повторной обработке заявки.
	ErrRequestProcessed = errors.New("redemption request already processed")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	ledger *ledger.Ledger
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string, l *ledger.Ledger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool, ledger: l}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет fn при временных ошибках БД: сбоях сериализации и дедлоках.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewConstant(1*time.Second))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				return retry.RetryableError(err)
			}
		}

		return err
	})
}

func (r *PostgresRepository) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(tx); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash) VALUES ($1, $2) RETURNING id`,
		login, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// EnsureSystemState создаёт единственную запись состояния системы, если её ещё
// нет, и возвращает актуальное состояние.
func (r *PostgresRepository) EnsureSystemState(ctx context.Context, adminUserID int64) (*model.SystemState, error) {
	var st model.SystemState
	err := r.pool.QueryRow(ctx,
		`INSERT INTO system_state (id, admin_user_id, is_paused) VALUES (1, $1, FALSE)
		 ON CONFLICT (id) DO UPDATE SET admin_user_id = system_state.admin_user_id
		 RETURNING admin_user_id, is_paused`,
		adminUserID,
	).Scan(&st.AdminUserID, &st.IsPaused)
	if err != nil {
		return nil, fmt.Errorf("ensure system state: %w", err)
	}
	return &st, nil
}

// SetPaused сохраняет флаг паузы системы.
func (r *PostgresRepository) SetPaused(ctx context.Context, paused bool) error {
	_, err := r.pool.Exec(ctx, `UPDATE system_state SET is_paused = $1 WHERE id = 1`, paused)
	if err != nil {
		return fmt.Errorf("set paused: %w", err)
	}
	return nil
}

// Balance возвращает остаток счёта в леджере.
func (r *PostgresRepository) Balance(ctx context.Context, owner, asset string) (int64, error) {
	return r.ledger.Balance(ctx, r.pool, owner, asset)
}

// GetDeposit возвращает накопленный депозит пользователя. Отсутствие записи
// трактуется как нулевой депозит.
func (r *PostgresRepository) GetDeposit(ctx context.Context, userID int64) (*model.UserDeposit, error) {
	d := &model.UserDeposit{UserID: userID}
	err := r.pool.QueryRow(ctx,
		`SELECT raw_amount, valued_amount FROM deposits WHERE user_id = $1`,
		userID,
	).Scan(&d.RawAmount, &d.ValuedAmount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return d, nil
		}
		return nil, fmt.Errorf("get deposit: %w", err)
	}
	return d, nil
}

// ApplyDeposit атомарно переводит залог пользователя в хранилище и накапливает
// его оценённую стоимость в записи депозита.
func (r *PostgresRepository) ApplyDeposit(ctx context.Context, userID int64, asset string, amount, valuedAmount int64) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := r.ledger.Transfer(ctx, tx, ledger.UserAccount(userID), ledger.CollateralVault, asset, amount); err != nil {
			return err
		}

		var raw, valued int64
		err := tx.QueryRow(ctx,
			`SELECT raw_amount, valued_amount FROM deposits WHERE user_id = $1 FOR UPDATE`,
			userID,
		).Scan(&raw, &valued)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("lock deposit: %w", err)
		}

		newRaw, err := vmath.CheckedAdd(raw, amount)
		if err != nil {
			return err
		}
		newValued, err := vmath.CheckedAdd(valued, valuedAmount)
		if err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO deposits (user_id, raw_amount, valued_amount) VALUES ($1, $2, $3)
			 ON CONFLICT (user_id) DO UPDATE SET raw_amount = $2, valued_amount = $3`,
			userID, newRaw, newValued,
		)
		if err != nil {
			return fmt.Errorf("upsert deposit: %w", err)
		}
		return nil
	})
}

// ApplyMintAndSplit атомарно выпускает синтетические токены, выдаёт ликвидную
// часть пользователю и помещает заблокированную часть в хранилище блокировок
// вместе с созданием или расширением записи блокировки.
func (r *PostgresRepository) ApplyMintAndSplit(ctx context.Context, userID int64, asset string, totalValue, liquidValue, lockedValue, lockPeriodDays, dailyRelease, now int64) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := r.ledger.Mint(ctx, tx, r.ledger.Authority(), ledger.MintVault, asset, totalValue); err != nil {
			return err
		}

		if liquidValue > 0 {
			if err := r.ledger.Transfer(ctx, tx, ledger.MintVault, ledger.UserAccount(userID), asset, liquidValue); err != nil {
				return err
			}
		}

		if lockedValue > 0 {
			if err := r.ledger.Transfer(ctx, tx, ledger.MintVault, ledger.LockVault, asset, lockedValue); err != nil {
				return err
			}
			if err := upsertLockRecord(ctx, tx, model.LockRecord{
				UserID:          userID,
				Amount:          lockedValue,
				LockPeriodDays:  lockPeriodDays,
				DailyRelease:    dailyRelease,
				StartTime:       now,
				LastReleaseTime: now,
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// CreateLock атомарно переводит синтетические токены пользователя в хранилище
// блокировок и создаёт либо расширяет запись блокировки.
func (r *PostgresRepository) CreateLock(ctx context.Context, rec model.LockRecord, asset string) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := r.ledger.Transfer(ctx, tx, ledger.UserAccount(rec.UserID), ledger.LockVault, asset, rec.Amount); err != nil {
			return err
		}
		return upsertLockRecord(ctx, tx, rec)
	})
}

// upsertLockRecord создаёт запись блокировки или увеличивает сумму
// существующей. График выплат существующей записи не меняется.
func upsertLockRecord(ctx context.Context, tx pgx.Tx, rec model.LockRecord) error {
	var current int64
	err := tx.QueryRow(ctx,
		`SELECT amount FROM lock_records WHERE user_id = $1 FOR UPDATE`,
		rec.UserID,
	).Scan(&current)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = tx.Exec(ctx,
			`INSERT INTO lock_records (user_id, amount, lock_period_days, daily_release, start_time, last_release_time)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			rec.UserID, rec.Amount, rec.LockPeriodDays, rec.DailyRelease, rec.StartTime, rec.LastReleaseTime,
		)
		if err != nil {
			return fmt.Errorf("insert lock record: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("lock lock record: %w", err)
	}

	newAmount, err := vmath.CheckedAdd(current, rec.Amount)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE lock_records SET amount = $2 WHERE user_id = $1`,
		rec.UserID, newAmount,
	)
	if err != nil {
		return fmt.Errorf("extend lock record: %w", err)
	}
	return nil
}

// GetLockRecord возвращает запись блокировки пользователя.
func (r *PostgresRepository) GetLockRecord(ctx context.Context, userID int64) (*model.LockRecord, error) {
	rec := &model.LockRecord{UserID: userID}
	err := r.pool.QueryRow(ctx,
		`SELECT amount, lock_period_days, daily_release, start_time, last_release_time
		 FROM lock_records WHERE user_id = $1`,
		userID,
	).Scan(&rec.Amount, &rec.LockPeriodDays, &rec.DailyRelease, &rec.StartTime, &rec.LastReleaseTime)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLockNotFound
		}
		return nil, fmt.Errorf("get lock record: %w", err)
	}
	return rec, nil
}

// ListReleasableLocks возвращает идентификаторы пользователей, у которых есть
// непустая блокировка с последней выплатой раньше текущего календарного дня.
func (r *PostgresRepository) ListReleasableLocks(ctx context.Context, now int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM lock_records
		 WHERE amount > 0
		   AND last_release_time / 86400 < $1 / 86400
		   AND $1 < start_time + lock_period_days * 86400
		 ORDER BY user_id`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("select releasable locks: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}

// ApplyRelease атомарно выплачивает пользователю суточную часть блокировки.
// Запись применяется только если last_release_time не изменился с момента
// чтения, иначе возвращается ErrLockConflict.
func (r *PostgresRepository) ApplyRelease(ctx context.Context, userID int64, asset string, releaseAmount, newAmount, prevReleaseTime, now int64) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := r.ledger.Transfer(ctx, tx, ledger.LockVault, ledger.UserAccount(userID), asset, releaseAmount); err != nil {
			return err
		}

		tag, err := tx.Exec(ctx,
			`UPDATE lock_records SET amount = $2, last_release_time = $3
			 WHERE user_id = $1 AND last_release_time = $4`,
			userID, newAmount, now, prevReleaseTime,
		)
		if err != nil {
			return fmt.Errorf("update lock record: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrLockConflict
		}
		return nil
	})
}

// CreateRedemptionRequest атомарно переводит синтетические токены в хранилище
// погашений и создаёт заявку. Вторая необработанная заявка не допускается.
func (r *PostgresRepository) CreateRedemptionRequest(ctx context.Context, userID int64, asset string, amount, now int64) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := r.ledger.Transfer(ctx, tx, ledger.UserAccount(userID), ledger.RedemptionVault, asset, amount); err != nil {
			return err
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO redemption_requests (user_id, amount, request_time, is_processed)
			 VALUES ($1, $2, $3, FALSE)`,
			userID, amount, now,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: user %d", ErrRequestPending, userID)
			}
			return fmt.Errorf("insert redemption request: %w", err)
		}
		return nil
	})
}

// GetLatestRedemption возвращает последнюю заявку пользователя на погашение.
func (r *PostgresRepository) GetLatestRedemption(ctx context.Context, userID int64) (*model.RedemptionRequest, error) {
	req := &model.RedemptionRequest{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, amount, request_time, is_processed
		 FROM redemption_requests WHERE user_id = $1
		 ORDER BY id DESC LIMIT 1`,
		userID,
	).Scan(&req.ID, &req.UserID, &req.Amount, &req.RequestTime, &req.IsProcessed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("get redemption request: %w", err)
	}
	return req, nil
}

// ExecuteRedemption атомарно помечает заявку обработанной, сжигает
// синтетические токены из хранилища погашений и выплачивает пользователю
// залог. Повторная обработка возвращает ErrRequestProcessed.
func (r *PostgresRepository) ExecuteRedemption(ctx context.Context, requestID, userID int64, syntheticAsset, collateralAsset string, burnAmount, payout int64) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE redemption_requests SET is_processed = TRUE
			 WHERE id = $1 AND NOT is_processed`,
			requestID,
		)
		if err != nil {
			return fmt.Errorf("mark request processed: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("%w: request %d", ErrRequestProcessed, requestID)
		}

		if err := r.ledger.Burn(ctx, tx, r.ledger.Authority(), ledger.RedemptionVault, syntheticAsset, burnAmount); err != nil {
			return err
		}

		if payout > 0 {
			if err := r.ledger.Transfer(ctx, tx, ledger.CollateralVault, ledger.UserAccount(userID), collateralAsset, payout); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyHedge атомарно переводит синтетические токены в хеджирующее хранилище
// и фиксирует запись о проведённом хеджировании.
func (r *PostgresRepository) ApplyHedge(ctx context.Context, userID int64, asset string, amount, now int64) error {
	return r.inTx(ctx, func(tx pgx.Tx) error {
		if err := r.ledger.Transfer(ctx, tx, ledger.UserAccount(userID), ledger.HedgingVault, asset, amount); err != nil {
			return err
		}

		_, err := tx.Exec(ctx,
			`INSERT INTO hedging_records (user_id, amount, ts) VALUES ($1, $2, $3)`,
			userID, amount, now,
		)
		if err != nil {
			return fmt.Errorf("insert hedging record: %w", err)
		}
		return nil
	})
}
