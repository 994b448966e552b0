package id

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Reference prefixes. Payment references double as the gateway idempotency key.
const (
	PrefixBooking      = "BKG"
	PrefixSubscription = "SUB"
	PrefixPartner      = "PTN"
	PrefixPayout       = "WDR"
)

// GenerateReference returns prefix_ULID. ULIDs sort by creation time which keeps
// references readable in gateway dashboards.
func GenerateReference(prefix string) string {
	id := ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(rand.Reader, 0))
	return strings.ToUpper(prefix) + "_" + id.String()
}

// New returns a random record id.
func New() string {
	return uuid.NewString()
}
