// internal/repository/earnings_repo.go
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"money-service/internal/domain"
)

type earningsRepo struct {
	db *pgxpool.Pool
}

func NewEarningsRepository(db *pgxpool.Pool) EarningsRepository {
	return &earningsRepo{db: db}
}

const ledgerColumns = `
	user_id, currency, total_gross, total_platform_fee, total_gateway_fee,
	total_withdrawn, reserved, available_balance, entry_count, updated_at`

const entryColumns = `
	id, user_id, kind, source_ref, gross, platform_fee, gateway_fee, amount, net, currency, created_at`

const withdrawalColumns = `
	id, user_id, amount_requested, gateway_fee, total_deducted, currency, status,
	target_msisdn, operator, payout_reference, actual_fee, failure_reason,
	created_at, updated_at, completed_at`

const commissionColumns = `
	id, booking_id, property_id, host_id, rate, booking_amount, commission_amount,
	status, created_at, updated_at`

// InLedgerTx locks the ledger row (SELECT FOR UPDATE) for the whole unit of work.
func (r *earningsRepo) InLedgerTx(ctx context.Context, userID, currency string, fn func(ctx context.Context, tx LedgerTx) error) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO earnings_ledgers (user_id, currency)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, currency)
	if err != nil {
		return fmt.Errorf("failed to open ledger for %s: %w", userID, err)
	}

	ledger, err := scanLedger(tx.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM earnings_ledgers WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return fmt.Errorf("failed to lock ledger for %s: %w", userID, err)
	}

	ltx := &pgLedgerTx{tx: tx, ledger: ledger}
	if err := fn(ctx, ltx); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE earnings_ledgers
		SET total_gross = $2,
			total_platform_fee = $3,
			total_gateway_fee = $4,
			total_withdrawn = $5,
			reserved = $6,
			available_balance = $7,
			entry_count = $8,
			updated_at = $9
		WHERE user_id = $1
	`,
		ledger.UserID,
		ledger.TotalGross,
		ledger.TotalPlatformFee,
		ledger.TotalGatewayFee,
		ledger.TotalWithdrawn,
		ledger.Reserved,
		ledger.AvailableBalance,
		ledger.EntryCount,
		ledger.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save ledger for %s: %w", userID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit ledger transaction: %w", err)
	}
	return nil
}

func (r *earningsRepo) GetLedger(ctx context.Context, userID string) (*domain.EarningsLedger, error) {
	return scanLedger(r.db.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM earnings_ledgers WHERE user_id = $1`, userID))
}

func (r *earningsRepo) ListEntries(ctx context.Context, userID string) ([]*domain.LedgerEntry, error) {
	rows, err := r.db.Query(ctx, `SELECT `+entryColumns+` FROM earnings_entries WHERE user_id = $1 ORDER BY seq`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []*domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(
			&e.ID,
			&e.UserID,
			&e.Kind,
			&e.SourceRef,
			&e.Gross,
			&e.PlatformFee,
			&e.GatewayFee,
			&e.Amount,
			&e.Net,
			&e.Currency,
			&e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

func (r *earningsRepo) GetWithdrawal(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	return scanWithdrawal(r.db.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1`, id))
}

func (r *earningsRepo) GetWithdrawalByPayoutRef(ctx context.Context, reference string) (*domain.WithdrawalRequest, error) {
	return scanWithdrawal(r.db.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM withdrawals WHERE payout_reference = $1`, reference))
}

func (r *earningsRepo) ListWithdrawals(ctx context.Context, userID string, limit int) ([]*domain.WithdrawalRequest, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+withdrawalColumns+`
		FROM withdrawals
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list withdrawals: %w", err)
	}
	defer rows.Close()

	var out []*domain.WithdrawalRequest
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *earningsRepo) GetCommission(ctx context.Context, id string) (*domain.CommissionRecord, error) {
	var c domain.CommissionRecord
	err := r.db.QueryRow(ctx, `SELECT `+commissionColumns+` FROM platform_commissions WHERE id = $1`, id).Scan(
		&c.ID,
		&c.BookingID,
		&c.PropertyID,
		&c.HostID,
		&c.Rate,
		&c.BookingAmount,
		&c.CommissionAmount,
		&c.Status,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get commission: %w", err)
	}
	return &c, nil
}

// UpdateCommission only writes the status; the amounts are fixed at creation.
func (r *earningsRepo) UpdateCommission(ctx context.Context, c *domain.CommissionRecord) error {
	tag, err := r.db.Exec(ctx, `UPDATE platform_commissions SET status = $2, updated_at = $3 WHERE id = $1`,
		c.ID, c.Status, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to update commission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ============================================
// LEDGER TRANSACTION
// ============================================

type pgLedgerTx struct {
	tx     pgx.Tx
	ledger *domain.EarningsLedger
}

func (t *pgLedgerTx) Ledger() *domain.EarningsLedger { return t.ledger }

func (t *pgLedgerTx) HasEntry(ctx context.Context, kind domain.EntryKind, sourceRef string) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM earnings_entries WHERE user_id = $1 AND kind = $2 AND source_ref = $3)
	`, t.ledger.UserID, kind, sourceRef).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check ledger entry: %w", err)
	}
	return exists, nil
}

func (t *pgLedgerTx) AppendEntry(ctx context.Context, e *domain.LedgerEntry) error {
	if err := t.ledger.Apply(e); err != nil {
		return err
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO earnings_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		e.ID,
		e.UserID,
		e.Kind,
		e.SourceRef,
		e.Gross,
		e.PlatformFee,
		e.GatewayFee,
		e.Amount,
		e.Net,
		e.Currency,
		e.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: ledger entry %s/%s", domain.ErrAlreadyExists, e.Kind, e.SourceRef)
		}
		return fmt.Errorf("failed to append ledger entry: %w", err)
	}
	return nil
}

func (t *pgLedgerTx) GetWithdrawal(ctx context.Context, id string) (*domain.WithdrawalRequest, error) {
	return scanWithdrawal(t.tx.QueryRow(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawals WHERE id = $1 AND user_id = $2 FOR UPDATE`, id, t.ledger.UserID))
}

func (t *pgLedgerTx) CreateWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO withdrawals (`+withdrawalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`,
		w.ID,
		w.UserID,
		w.AmountRequested,
		w.GatewayFee,
		w.TotalDeducted,
		w.Currency,
		w.Status,
		w.TargetMsisdn,
		w.Operator,
		w.PayoutReference,
		nullDecimal(w.ActualFee),
		w.FailureReason,
		w.CreatedAt,
		w.UpdatedAt,
		w.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create withdrawal: %w", err)
	}
	return nil
}

func (t *pgLedgerTx) UpdateWithdrawal(ctx context.Context, w *domain.WithdrawalRequest) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE withdrawals
		SET status = $2,
			payout_reference = $3,
			actual_fee = $4,
			failure_reason = $5,
			updated_at = $6,
			completed_at = $7
		WHERE id = $1
	`,
		w.ID,
		w.Status,
		w.PayoutReference,
		nullDecimal(w.ActualFee),
		w.FailureReason,
		w.UpdatedAt,
		w.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update withdrawal %s: %w", w.ID, err)
	}
	return nil
}

func (t *pgLedgerTx) CreateCommission(ctx context.Context, c *domain.CommissionRecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO platform_commissions (`+commissionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		c.ID,
		c.BookingID,
		c.PropertyID,
		c.HostID,
		c.Rate,
		c.BookingAmount,
		c.CommissionAmount,
		c.Status,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: commission for booking %s", domain.ErrAlreadyExists, c.BookingID)
		}
		return fmt.Errorf("failed to create commission: %w", err)
	}
	return nil
}

// ============================================
// SCANNERS
// ============================================

func scanLedger(row pgx.Row) (*domain.EarningsLedger, error) {
	var l domain.EarningsLedger
	err := row.Scan(
		&l.UserID,
		&l.Currency,
		&l.TotalGross,
		&l.TotalPlatformFee,
		&l.TotalGatewayFee,
		&l.TotalWithdrawn,
		&l.Reserved,
		&l.AvailableBalance,
		&l.EntryCount,
		&l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get ledger: %w", err)
	}
	return &l, nil
}

func scanWithdrawal(row pgx.Row) (*domain.WithdrawalRequest, error) {
	var (
		w         domain.WithdrawalRequest
		actualFee decimal.NullDecimal
	)
	err := row.Scan(
		&w.ID,
		&w.UserID,
		&w.AmountRequested,
		&w.GatewayFee,
		&w.TotalDeducted,
		&w.Currency,
		&w.Status,
		&w.TargetMsisdn,
		&w.Operator,
		&w.PayoutReference,
		&actualFee,
		&w.FailureReason,
		&w.CreatedAt,
		&w.UpdatedAt,
		&w.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get withdrawal: %w", err)
	}
	w.ActualFee = decimalPtr(actualFee)
	return &w, nil
}
