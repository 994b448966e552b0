// internal/repository/booking_repo.go
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"money-service/internal/domain"
)

type bookingRepo struct {
	db *pgxpool.Pool
}

func NewBookingRepository(db *pgxpool.Pool) BookingRepository {
	return &bookingRepo{db: db}
}

func (r *bookingRepo) GetBooking(ctx context.Context, id string) (*domain.Booking, error) {
	var b domain.Booking
	err := r.db.QueryRow(ctx, `
		SELECT id, property_id, host_id, guest_id, amount, currency, status, payment_ref, paid_at
		FROM bookings
		WHERE id = $1
	`, id).Scan(
		&b.ID,
		&b.PropertyID,
		&b.HostID,
		&b.GuestID,
		&b.Amount,
		&b.Currency,
		&b.Status,
		&b.PaymentRef,
		&b.PaidAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return &b, nil
}

func (r *bookingRepo) MarkPaid(ctx context.Context, id, paymentRef string, at time.Time) error {
	_, err := r.db.Exec(ctx, `
		UPDATE bookings
		SET status = 'paid', payment_ref = $2, paid_at = $3
		WHERE id = $1 AND status <> 'paid'
	`, id, paymentRef, at)
	if err != nil {
		return fmt.Errorf("failed to mark booking %s paid: %w", id, err)
	}
	return nil
}

// ============================================
// USERS & NOTIFICATIONS
// ============================================

type userDirectory struct {
	db *pgxpool.Pool
}

func NewUserDirectory(db *pgxpool.Pool) UserDirectory {
	return &userDirectory{db: db}
}

func (r *userDirectory) ListActiveAdminIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT id FROM users WHERE role = 'admin' AND is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan admins: %w", err)
	}
	return ids, nil
}

type notificationRepo struct {
	db *pgxpool.Pool
}

func NewNotificationRepository(db *pgxpool.Pool) NotificationRepository {
	return &notificationRepo{db: db}
}

// Create ignores a second write for the same event and recipient.
func (r *notificationRepo) Create(ctx context.Context, n *domain.Notification) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO notifications (id, event_id, recipient_id, type, title, body, subject_id, read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (event_id, recipient_id) DO NOTHING
	`, n.ID, n.EventID, n.RecipientID, n.Type, n.Title, n.Body, n.SubjectID, n.Read, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

func (r *notificationRepo) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]*domain.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, event_id, recipient_id, type, title, body, subject_id, read, created_at
		FROM notifications
		WHERE recipient_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, recipientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	var out []*domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.EventID, &n.RecipientID, &n.Type, &n.Title, &n.Body, &n.SubjectID, &n.Read, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		out = append(out, &n)
	}
	return out, rows.Err()
}
