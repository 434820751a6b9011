package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

type Subnet struct {
	ID          pgtype.UUID `json:"id"`
	Name        string      `json:"name"`
	CIDR        string      `json:"cidr"`
	Gateway     *string     `json:"gateway"`
	IsActive    bool        `json:"is_active"`
	ExcludedIPs string      `json:"excluded_ips"`
	CreatedAt   time.Time   `json:"created_at"`
}

// GatewayString returns the gateway or "" when unset.
func (s Subnet) GatewayString() string {
	if s.Gateway == nil {
		return ""
	}
	return *s.Gateway
}

type Status string

const (
	StatusUsed     Status = "USED"
	StatusReleased Status = "RELEASED"
)

// Allocation is the single ledger row kept per (subnet, address). It is
// reused across claim/release cycles and never deleted.
type Allocation struct {
	ID          pgtype.UUID `json:"id"`
	SubnetID    pgtype.UUID `json:"subnet_id"`
	Address     string      `json:"address"`
	Status      Status      `json:"status"`
	Owner       string      `json:"owner"`
	Hostname    string      `json:"hostname"`
	Description string      `json:"description"`
	ClaimedAt   time.Time   `json:"claimed_at"`
	ReleasedAt  *time.Time  `json:"released_at"`
	ReleasedBy  *string     `json:"released_by"`
}

type EventAction string

const (
	ActionClaim   EventAction = "CLAIM"
	ActionRelease EventAction = "RELEASE"
)

// AllocationEvent is one append-only audit entry for an allocation row.
type AllocationEvent struct {
	AllocationID pgtype.UUID `json:"allocation_id"`
	Seq          int64       `json:"seq"`
	Action       EventAction `json:"action"`
	Actor        string      `json:"actor"`
	Hostname     string      `json:"hostname"`
	At           time.Time   `json:"at"`
}

// ParseID parses the textual UUID used in URLs.
func ParseID(s string) (pgtype.UUID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{}, err
	}
	return pgtype.UUID{Bytes: u, Valid: true}, nil
}

// IDString formats id as a UUID string, or "" when unset.
func IDString(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	return uuid.UUID(id.Bytes).String()
}
