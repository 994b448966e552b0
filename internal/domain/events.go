package domain

import "time"

type EventType string

const (
	EventPurchaseRequested  EventType = "purchase.requested"
	EventPurchaseContacted  EventType = "purchase.contacted"
	EventPurchaseSold       EventType = "purchase.sold"
	EventPurchaseSellerPaid EventType = "purchase.seller_paid"
	EventPurchaseCancelled  EventType = "purchase.cancelled"
	EventPaymentSucceeded   EventType = "payment.succeeded"
	EventPaymentFailed      EventType = "payment.failed"
	EventLedgerCredited     EventType = "ledger.credited"
	EventWithdrawalComplete EventType = "withdrawal.completed"
	EventWithdrawalFailed   EventType = "withdrawal.failed"
	EventListingApproved    EventType = "listing.approved"
	EventListingDeclined    EventType = "listing.declined"
)

// Event is what the orchestrators publish instead of delivering notifications themselves.
type Event struct {
	ID         string                 `json:"id"`
	Type       EventType              `json:"type"`
	OccurredAt time.Time              `json:"occurredAt"`
	ActorID    string                 `json:"actorId,omitempty"`
	SubjectID  string                 `json:"subjectId"`
	Recipients []string               `json:"recipients,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// Notification is the record the notification worker leaves for delivery.
type Notification struct {
	ID          string    `json:"id"`
	EventID     string    `json:"eventId"`
	RecipientID string    `json:"recipientId"`
	Type        EventType `json:"type"`
	Title       string    `json:"title"`
	Body        string    `json:"body"`
	SubjectID   string    `json:"subjectId"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"createdAt"`
}

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Identity is the caller as supplied by the external identity provider.
type Identity struct {
	UserID string
	Role   Role
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }
