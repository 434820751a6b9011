// Package ledger is the durable per-(subnet, address) allocation record.
// Functions take a Querier so callers can run them inside a transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/ttani03/lan-ipam/internal/models"
)

var (
	// ErrConflict means a concurrent claim inserted the same (subnet, address)
	// first. The transaction is aborted and should be retried.
	ErrConflict = errors.New("allocation row already exists")
	// ErrRowInUse means the row is USED and must not be overwritten.
	ErrRowInUse       = errors.New("allocation row is in use")
	ErrNotFound       = errors.New("allocation not found")
	ErrSubnetNotFound = errors.New("subnet not found or inactive")
)

const uniqueViolation = "23505"

// Querier is satisfied by pgx.Tx, *pgx.Conn and *pgxpool.Pool.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ClaimRequest carries who claims an address and what for.
type ClaimRequest struct {
	Owner       string
	Hostname    string
	Description string
}

// SubnetColumns is the column list ScanSubnet expects.
const SubnetColumns = "id, name, cidr, gateway, is_active, excluded_ips, created_at"

const allocationColumns = "id, subnet_id, address, status, owner, hostname, description, claimed_at, released_at, released_by"

// ScanSubnet scans a row selected with SubnetColumns.
func ScanSubnet(row pgx.Row) (models.Subnet, error) {
	var s models.Subnet
	err := row.Scan(&s.ID, &s.Name, &s.CIDR, &s.Gateway, &s.IsActive, &s.ExcludedIPs, &s.CreatedAt)
	return s, err
}

func scanAllocation(row pgx.Row) (models.Allocation, error) {
	var a models.Allocation
	err := row.Scan(&a.ID, &a.SubnetID, &a.Address, &a.Status, &a.Owner, &a.Hostname,
		&a.Description, &a.ClaimedAt, &a.ReleasedAt, &a.ReleasedBy)
	return a, err
}

type LockMode int

const (
	ActiveOnly LockMode = iota
	AnyState
)

// LockSubnet loads the subnet with SELECT ... FOR NO KEY UPDATE. Every
// allocation mutation for a subnet happens while this lock is held, which
// serializes claims within a subnet and leaves other subnets unaffected.
// The lock does not block the key-share locks taken by allocation inserts,
// so a writer outside the engine surfaces as a unique violation instead.
func LockSubnet(ctx context.Context, q Querier, subnetID pgtype.UUID, mode LockMode) (models.Subnet, error) {
	sql := "SELECT " + SubnetColumns + " FROM subnets WHERE id = $1"
	if mode == ActiveOnly {
		sql += " AND is_active"
	}
	s, err := ScanSubnet(q.QueryRow(ctx, sql+" FOR NO KEY UPDATE", subnetID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Subnet{}, ErrSubnetNotFound
	}
	if err != nil {
		return models.Subnet{}, fmt.Errorf("lock subnet: %w", err)
	}
	return s, nil
}

// IsUsed reports whether addr has a USED row in the subnet.
func IsUsed(ctx context.Context, q Querier, subnetID pgtype.UUID, addr netip.Addr) (bool, error) {
	var used bool
	err := q.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM allocations WHERE subnet_id = $1 AND address = $2 AND status = 'USED')",
		subnetID, addr.String()).Scan(&used)
	if err != nil {
		return false, fmt.Errorf("check address %s: %w", addr, err)
	}
	return used, nil
}

// FindRow returns the row for addr regardless of status, or nil if the
// address has never been claimed.
func FindRow(ctx context.Context, q Querier, subnetID pgtype.UUID, addr netip.Addr) (*models.Allocation, error) {
	a, err := scanAllocation(q.QueryRow(ctx,
		"SELECT "+allocationColumns+" FROM allocations WHERE subnet_id = $1 AND address = $2",
		subnetID, addr.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find row %s: %w", addr, err)
	}
	return &a, nil
}

// UpsertClaim marks addr USED for req. A RELEASED row is reused in place; a
// USED row is never overwritten. A missing row is inserted, and a unique
// violation on insert is reported as ErrConflict.
func UpsertClaim(ctx context.Context, q Querier, subnetID pgtype.UUID, addr netip.Addr, req ClaimRequest) (models.Allocation, error) {
	row, err := FindRow(ctx, q, subnetID, addr)
	if err != nil {
		return models.Allocation{}, err
	}

	var a models.Allocation
	if row != nil {
		if row.Status != models.StatusReleased {
			return models.Allocation{}, ErrRowInUse
		}
		a, err = scanAllocation(q.QueryRow(ctx, `
			UPDATE allocations
			SET status = 'USED', owner = $2, hostname = $3, description = $4,
			    claimed_at = NOW(), released_at = NULL, released_by = NULL
			WHERE id = $1 AND status = 'RELEASED'
			RETURNING `+allocationColumns,
			row.ID, req.Owner, req.Hostname, req.Description))
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Allocation{}, ErrRowInUse
		}
		if err != nil {
			return models.Allocation{}, fmt.Errorf("reuse row %s: %w", addr, err)
		}
	} else {
		a, err = scanAllocation(q.QueryRow(ctx, `
			INSERT INTO allocations (subnet_id, address, status, owner, hostname, description)
			VALUES ($1, $2, 'USED', $3, $4, $5)
			RETURNING `+allocationColumns,
			subnetID, addr.String(), req.Owner, req.Hostname, req.Description))
		if isUniqueViolation(err) {
			return models.Allocation{}, ErrConflict
		}
		if err != nil {
			return models.Allocation{}, fmt.Errorf("insert row %s: %w", addr, err)
		}
	}

	if err := appendEvent(ctx, q, a.ID, models.ActionClaim, req.Owner, req.Hostname); err != nil {
		return models.Allocation{}, err
	}
	return a, nil
}

// Release moves a USED row to RELEASED. Releasing a row that is already
// RELEASED returns it unchanged.
func Release(ctx context.Context, q Querier, allocationID pgtype.UUID, releasedBy string) (models.Allocation, error) {
	a, err := scanAllocation(q.QueryRow(ctx, `
		UPDATE allocations
		SET status = 'RELEASED', released_at = NOW(), released_by = $2
		WHERE id = $1 AND status = 'USED'
		RETURNING `+allocationColumns,
		allocationID, nilIfEmpty(releasedBy)))
	if errors.Is(err, pgx.ErrNoRows) {
		return GetAllocation(ctx, q, allocationID)
	}
	if err != nil {
		return models.Allocation{}, fmt.Errorf("release: %w", err)
	}

	if err := appendEvent(ctx, q, a.ID, models.ActionRelease, releasedBy, a.Hostname); err != nil {
		return models.Allocation{}, err
	}
	return a, nil
}

func GetAllocation(ctx context.Context, q Querier, id pgtype.UUID) (models.Allocation, error) {
	a, err := scanAllocation(q.QueryRow(ctx,
		"SELECT "+allocationColumns+" FROM allocations WHERE id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Allocation{}, ErrNotFound
	}
	if err != nil {
		return models.Allocation{}, fmt.Errorf("get allocation: %w", err)
	}
	return a, nil
}

// Filter narrows ListAllocations. Zero values disable a condition.
type Filter struct {
	Query       string
	Owner       string
	UsedOnly    bool
	StaleBefore time.Time
}

// ListAllocations returns the subnet's rows newest claim first.
func ListAllocations(ctx context.Context, q Querier, subnetID pgtype.UUID, f Filter) ([]models.Allocation, error) {
	conds := []string{"subnet_id = $1"}
	args := []any{subnetID}
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}

	if f.Query != "" {
		add("(address ILIKE ? OR owner ILIKE ? OR hostname ILIKE ? OR description ILIKE ?)", "%"+escapeLike(f.Query)+"%")
	}
	if f.Owner != "" {
		add("owner = ?", f.Owner)
	}
	if f.UsedOnly || !f.StaleBefore.IsZero() {
		conds = append(conds, "status = 'USED'")
	}
	if !f.StaleBefore.IsZero() {
		add("claimed_at <= ?", f.StaleBefore)
	}

	return queryAllocations(ctx, q,
		"SELECT "+allocationColumns+" FROM allocations WHERE "+strings.Join(conds, " AND ")+" ORDER BY claimed_at DESC",
		args...)
}

// StaleAllocations returns USED rows claimed at or before cutoff, oldest first.
func StaleAllocations(ctx context.Context, q Querier, subnetID pgtype.UUID, cutoff time.Time) ([]models.Allocation, error) {
	return queryAllocations(ctx, q,
		"SELECT "+allocationColumns+" FROM allocations WHERE subnet_id = $1 AND status = 'USED' AND claimed_at <= $2 ORDER BY claimed_at",
		subnetID, cutoff)
}

func CountUsed(ctx context.Context, q Querier, subnetID pgtype.UUID) (int, error) {
	var n int
	err := q.QueryRow(ctx, "SELECT COUNT(*) FROM allocations WHERE subnet_id = $1 AND status = 'USED'", subnetID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count used: %w", err)
	}
	return n, nil
}

// History returns the claim/release events of one allocation row in order.
func History(ctx context.Context, q Querier, allocationID pgtype.UUID) ([]models.AllocationEvent, error) {
	rows, err := q.Query(ctx,
		"SELECT allocation_id, seq, action, actor, hostname, at FROM allocation_events WHERE allocation_id = $1 ORDER BY seq",
		allocationID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.AllocationEvent, error) {
		var e models.AllocationEvent
		err := row.Scan(&e.AllocationID, &e.Seq, &e.Action, &e.Actor, &e.Hostname, &e.At)
		return e, err
	})
}

func queryAllocations(ctx context.Context, q Querier, sql string, args ...any) ([]models.Allocation, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query allocations: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Allocation, error) {
		return scanAllocation(row)
	})
}

func appendEvent(ctx context.Context, q Querier, id pgtype.UUID, action models.EventAction, actor, hostname string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO allocation_events (allocation_id, seq, action, actor, hostname)
		SELECT $1::uuid, COALESCE(MAX(seq), 0) + 1, $2::text, $3::text, $4::text FROM allocation_events WHERE allocation_id = $1::uuid`,
		id, string(action), actor, hostname)
	if err != nil {
		return fmt.Errorf("append %s event: %w", action, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`).Replace(s)
}
