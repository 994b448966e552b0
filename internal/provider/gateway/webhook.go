package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"money-service/internal/domain"
)

type webhookPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseWebhook decodes a gateway callback body into a status report. The status comes
// from the transaction object; the event name is only used when the transaction has none
// (e.g. "collection.successful").
func ParseWebhook(body []byte) (domain.StatusReport, error) {
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.StatusReport{}, fmt.Errorf("%w: webhook body: %v", domain.ErrInvalidRequest, err)
	}
	tx, err := decodeTransaction(payload.Data)
	if err != nil {
		return domain.StatusReport{}, fmt.Errorf("%w: webhook data: %v", domain.ErrInvalidRequest, err)
	}
	if tx.Reference == "" {
		return domain.StatusReport{}, fmt.Errorf("%w: webhook has no reference", domain.ErrInvalidRequest)
	}

	raw := tx.Status
	if raw == "" {
		raw = eventStatus(payload.Event)
	}
	status, ok := NormalizeStatus(raw)
	if !ok {
		return domain.StatusReport{}, fmt.Errorf("%w: unknown webhook status %q", domain.ErrInvalidRequest, raw)
	}

	gatewayID := tx.ID
	if gatewayID == "" {
		gatewayID = tx.GatewayReference
	}
	return domain.StatusReport{
		Reference:        tx.Reference,
		GatewayReference: gatewayID,
		Status:           status,
		Amount:           tx.Amount.Value,
		Fee:              tx.Fee.ptr(),
		Reason:           tx.ReasonForFailure,
	}, nil
}

func eventStatus(event string) string {
	return event[strings.LastIndex(event, ".")+1:]
}
