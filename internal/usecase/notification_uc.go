// internal/usecase/notification_uc.go
package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"money-service/internal/domain"
	"money-service/internal/pkg/id"
	"money-service/internal/repository"
)

// NotificationUsecase turns published events into per-recipient notification records.
// It runs in the notifier process, away from the request path.
type NotificationUsecase struct {
	notifications repository.NotificationRepository
	users         repository.UserDirectory
	now           func() time.Time
	logger        *zap.Logger
}

func NewNotificationUsecase(notifications repository.NotificationRepository, users repository.UserDirectory, logger *zap.Logger) *NotificationUsecase {
	return &NotificationUsecase{
		notifications: notifications,
		users:         users,
		now:           func() time.Time { return time.Now().UTC() },
		logger:        logger,
	}
}

// HandleEvent writes one notification per recipient. Records are unique per event and
// recipient, so a redelivered event does not notify anybody twice.
func (uc *NotificationUsecase) HandleEvent(ctx context.Context, evt *domain.Event) error {
	recipients, err := uc.recipients(ctx, evt)
	if err != nil {
		return err
	}
	if len(recipients) == 0 {
		uc.logger.Debug("event has no recipients", zap.String("event_id", evt.ID), zap.String("type", string(evt.Type)))
		return nil
	}

	title, body := render(evt)
	now := uc.now()
	for _, rid := range recipients {
		n := &domain.Notification{
			ID:          id.New(),
			EventID:     evt.ID,
			RecipientID: rid,
			Type:        evt.Type,
			Title:       title,
			Body:        body,
			SubjectID:   evt.SubjectID,
			CreatedAt:   now,
		}
		if err := uc.notifications.Create(ctx, n); err != nil {
			return fmt.Errorf("failed to store notification for %s: %w", rid, err)
		}
	}

	uc.logger.Info("notifications written",
		zap.String("event_id", evt.ID),
		zap.String("type", string(evt.Type)),
		zap.Int("recipients", len(recipients)))
	return nil
}

func (uc *NotificationUsecase) List(ctx context.Context, recipientID string, limit int) ([]*domain.Notification, error) {
	return uc.notifications.ListByRecipient(ctx, recipientID, limit)
}

func (uc *NotificationUsecase) recipients(ctx context.Context, evt *domain.Event) ([]string, error) {
	ids := append([]string{}, evt.Recipients...)
	if evt.Type == domain.EventPurchaseRequested {
		admins, err := uc.users.ListActiveAdminIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list admins: %w", err)
		}
		ids = append(ids, admins...)
		if seller := payloadString(evt, "sellerId"); seller != "" {
			ids = append(ids, seller)
		}
	}

	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, rid := range ids {
		// the actor does not need telling about their own action
		if rid == "" || seen[rid] || rid == evt.ActorID {
			continue
		}
		seen[rid] = true
		out = append(out, rid)
	}
	return out, nil
}

func render(evt *domain.Event) (string, string) {
	ref := payloadString(evt, "reference")
	title := payloadString(evt, "propertyTitle")
	switch evt.Type {
	case domain.EventPurchaseRequested:
		return "New purchase request",
			fmt.Sprintf("%s wants to buy %s for %s", payloadString(evt, "buyerName"), title, payloadString(evt, "buyerTotal"))
	case domain.EventPurchaseContacted:
		return "Purchase request update", "Our team has been in touch about your purchase request"
	case domain.EventPurchaseSold:
		return "Property sold", fmt.Sprintf("Your property has been sold, your earnings are %s", payloadString(evt, "sellerEarnings"))
	case domain.EventPurchaseSellerPaid:
		return "Sale completed", "The sale is complete and the listing has been closed"
	case domain.EventPurchaseCancelled:
		return "Purchase request cancelled", "The purchase request has been cancelled"
	case domain.EventPaymentSucceeded:
		return "Payment received", fmt.Sprintf("Payment %s was successful", ref)
	case domain.EventPaymentFailed:
		return "Payment failed", fmt.Sprintf("Payment %s did not go through", ref)
	case domain.EventLedgerCredited:
		return "Earnings credited", fmt.Sprintf("%s %s has been added to your earnings", payloadString(evt, "currency"), payloadString(evt, "net"))
	case domain.EventWithdrawalComplete:
		return "Withdrawal completed", fmt.Sprintf("Your withdrawal of %s %s has been sent", payloadString(evt, "currency"), payloadString(evt, "amount"))
	case domain.EventWithdrawalFailed:
		return "Withdrawal failed", fmt.Sprintf("Withdrawal %s failed and the amount is back in your balance", ref)
	case domain.EventListingApproved:
		return "Listing approved", fmt.Sprintf("%s is now live", title)
	case domain.EventListingDeclined:
		body := fmt.Sprintf("%s was not approved", title)
		if note := payloadString(evt, "note"); note != "" {
			body += ": " + note
		}
		return "Listing declined", body
	default:
		return string(evt.Type), ""
	}
}

func payloadString(evt *domain.Event, key string) string {
	v, ok := evt.Payload[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
