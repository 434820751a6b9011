// Package subnets administers subnet records. Validation happens here at
// write time; the allocation engine trusts what it reads back.
package subnets

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/ttani03/lan-ipam/internal/addrspace"
	"github.com/ttani03/lan-ipam/internal/ledger"
	"github.com/ttani03/lan-ipam/internal/models"
)

// minIPv4Prefix is the shortest prefix accepted. Subnets broader than /8
// (> 16 million hosts) are rejected to keep candidate scans bounded.
const minIPv4Prefix = 8

// maxIPv4Prefix is the longest prefix that still has a host range.
const maxIPv4Prefix = 30

var (
	ErrInvalid        = errors.New("invalid subnet")
	ErrNotFound       = errors.New("subnet not found")
	ErrDuplicateName  = errors.New("subnet name already exists")
	ErrHasAllocations = errors.New("subnet has allocations and cannot be deleted")
)

type Input struct {
	Name        string
	CIDR        string
	Gateway     string
	ExcludedIPs string
	IsActive    bool
}

// Validate checks an Input and returns it normalized: trimmed fields and the
// CIDR in canonical masked form.
func Validate(in Input) (Input, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Gateway = strings.TrimSpace(in.Gateway)
	in.ExcludedIPs = strings.TrimSpace(in.ExcludedIPs)

	if in.Name == "" || strings.TrimSpace(in.CIDR) == "" {
		return in, fmt.Errorf("%w: cidr and name are required", ErrInvalid)
	}

	prefix, err := addrspace.ParseNetwork(in.CIDR)
	if err != nil {
		return in, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if prefix.Bits() < minIPv4Prefix || prefix.Bits() > maxIPv4Prefix {
		return in, fmt.Errorf("%w: CIDR prefix must be between /%d and /%d", ErrInvalid, minIPv4Prefix, maxIPv4Prefix)
	}
	in.CIDR = prefix.String()

	if _, err := addrspace.Parse(in.CIDR, in.Gateway, ""); err != nil {
		return in, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := addrspace.ValidateExclusions(prefix, in.ExcludedIPs); err != nil {
		return in, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return in, nil
}

func Create(ctx context.Context, q ledger.Querier, in Input) (models.Subnet, error) {
	in, err := Validate(in)
	if err != nil {
		return models.Subnet{}, err
	}
	s, err := ledger.ScanSubnet(q.QueryRow(ctx,
		"INSERT INTO subnets (name, cidr, gateway, excluded_ips, is_active) VALUES ($1, $2, $3, $4, $5) RETURNING "+ledger.SubnetColumns,
		in.Name, in.CIDR, nilIfEmpty(in.Gateway), in.ExcludedIPs, in.IsActive))
	if isUniqueViolation(err) {
		return models.Subnet{}, ErrDuplicateName
	}
	if err != nil {
		return models.Subnet{}, fmt.Errorf("create subnet: %w", err)
	}
	return s, nil
}

// Update rewrites a subnet's fields. Existing allocations are left alone even
// if they now fall outside the usable range.
func Update(ctx context.Context, q ledger.Querier, id pgtype.UUID, in Input) (models.Subnet, error) {
	in, err := Validate(in)
	if err != nil {
		return models.Subnet{}, err
	}
	s, err := ledger.ScanSubnet(q.QueryRow(ctx,
		"UPDATE subnets SET name = $2, cidr = $3, gateway = $4, excluded_ips = $5, is_active = $6 WHERE id = $1 RETURNING "+ledger.SubnetColumns,
		id, in.Name, in.CIDR, nilIfEmpty(in.Gateway), in.ExcludedIPs, in.IsActive))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return models.Subnet{}, ErrNotFound
	case isUniqueViolation(err):
		return models.Subnet{}, ErrDuplicateName
	case err != nil:
		return models.Subnet{}, fmt.Errorf("update subnet: %w", err)
	}
	return s, nil
}

func Get(ctx context.Context, q ledger.Querier, id pgtype.UUID, activeOnly bool) (models.Subnet, error) {
	sql := "SELECT " + ledger.SubnetColumns + " FROM subnets WHERE id = $1"
	if activeOnly {
		sql += " AND is_active"
	}
	s, err := ledger.ScanSubnet(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Subnet{}, ErrNotFound
	}
	if err != nil {
		return models.Subnet{}, fmt.Errorf("get subnet: %w", err)
	}
	return s, nil
}

func List(ctx context.Context, q ledger.Querier, activeOnly bool) ([]models.Subnet, error) {
	sql := "SELECT " + ledger.SubnetColumns + " FROM subnets"
	if activeOnly {
		sql += " WHERE is_active"
	}
	rows, err := q.Query(ctx, sql+" ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list subnets: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Subnet, error) {
		return ledger.ScanSubnet(row)
	})
}

// Delete removes a subnet that has never had an allocation. Subnets with
// allocation history are protected, never cascaded.
func Delete(ctx context.Context, q ledger.Querier, id pgtype.UUID) error {
	var refs int
	if err := q.QueryRow(ctx, "SELECT COUNT(*) FROM allocations WHERE subnet_id = $1", id).Scan(&refs); err != nil {
		return fmt.Errorf("count allocations: %w", err)
	}
	if refs > 0 {
		return ErrHasAllocations
	}

	tag, err := q.Exec(ctx, "DELETE FROM subnets WHERE id = $1", id)
	if isForeignKeyViolation(err) {
		return ErrHasAllocations
	}
	if err != nil {
		return fmt.Errorf("delete subnet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Summary is one row of the subnet list page.
type Summary struct {
	Subnet      models.Subnet
	UsedCount   int
	UsableCount int
	FreeCount   int
	FirstIP     string
	LastIP      string
}

// Summaries returns usage counts for every subnet, or only the active ones.
func Summaries(ctx context.Context, q ledger.Querier, activeOnly bool) ([]Summary, error) {
	list, err := List(ctx, q, activeOnly)
	if err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(list))
	for _, s := range list {
		used, err := ledger.CountUsed(ctx, q, s.ID)
		if err != nil {
			return nil, err
		}
		sum := Summary{Subnet: s, UsedCount: used}

		l := Describe(s)
		sum.UsableCount, sum.FirstIP, sum.LastIP = l.UsableCount, l.FirstIP, l.LastIP
		sum.FreeCount = max(sum.UsableCount-used, 0)
		out = append(out, sum)
	}
	return out, nil
}

// Layout is the address plan of a subnet as shown to users.
type Layout struct {
	Network     string
	Broadcast   string
	FirstIP     string
	LastIP      string
	UsableCount int
	// Reserved lists the gateway and exclusions in ascending order.
	Reserved []string
}

// Describe computes the Layout of s. A subnet whose stored columns no longer
// parse yields an empty Layout.
func Describe(s models.Subnet) Layout {
	space, err := addrspace.Parse(s.CIDR, s.GatewayString(), s.ExcludedIPs)
	if err != nil {
		return Layout{}
	}
	l := Layout{
		Network:     space.Network().String(),
		Broadcast:   space.Broadcast().String(),
		UsableCount: space.UsableCount(),
	}
	if first, last, ok := space.UsableRange(); ok {
		l.FirstIP, l.LastIP = first.String(), last.String()
	}
	for _, a := range space.Excluded() {
		l.Reserved = append(l.Reserved, a.String())
	}
	return l
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
