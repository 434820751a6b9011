// Package allocator claims and releases IPv4 addresses. Each attempt runs
// in one transaction holding the owning subnet's row lock, so all activity
// inside a subnet is serialized while distinct subnets proceed in parallel.
package allocator

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/sirupsen/logrus"

	"github.com/ttani03/lan-ipam/internal/addrspace"
	"github.com/ttani03/lan-ipam/internal/ledger"
	"github.com/ttani03/lan-ipam/internal/logger"
	"github.com/ttani03/lan-ipam/internal/metrics"
	"github.com/ttani03/lan-ipam/internal/models"
)

var (
	ErrInvalidAddress   = errors.New("address cannot be allocated from this subnet")
	ErrAddressInUse     = errors.New("address is in use")
	ErrNoFreeAddress    = errors.New("no free address in subnet")
	ErrRetriesExhausted = errors.New("gave up after repeated concurrent claims")
	ErrSubnetNotFound   = ledger.ErrSubnetNotFound
	ErrNotFound         = ledger.ErrNotFound
)

// LivenessChecker reports whether an address is live on the network.
// Implementations must not fail; see netprobe.Oracle.
type LivenessChecker interface {
	InUse(ctx context.Context, addr netip.Addr) bool
}

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

type Config struct {
	// FirstFreeAttempts bounds ClaimFirstFree retries after contention.
	FirstFreeAttempts int
	// SpecificAttempts bounds ClaimSpecific retries after contention.
	SpecificAttempts int
}

func DefaultConfig() Config {
	return Config{FirstFreeAttempts: 5, SpecificAttempts: 3}
}

type Engine struct {
	db     TxBeginner
	oracle LivenessChecker
	cfg    Config
}

func New(db TxBeginner, oracle LivenessChecker, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.FirstFreeAttempts < 1 {
		cfg.FirstFreeAttempts = def.FirstFreeAttempts
	}
	if cfg.SpecificAttempts < 1 {
		cfg.SpecificAttempts = def.SpecificAttempts
	}
	return &Engine{db: db, oracle: oracle, cfg: cfg}
}

// ClaimFirstFree claims the lowest address that is free in the ledger and
// silent on the network.
func (e *Engine) ClaimFirstFree(ctx context.Context, subnetID pgtype.UUID, req ledger.ClaimRequest) (models.Allocation, error) {
	log := logger.WithFields(logrus.Fields{"op": "claim_first_free", "subnet_id": models.IDString(subnetID), "owner": req.Owner})

	var alloc models.Allocation
	err := retry(ctx, log, "first_free", e.cfg.FirstFreeAttempts, func() error {
		return e.inTx(ctx, func(tx pgx.Tx) error {
			space, err := e.lock(ctx, tx, subnetID)
			if err != nil {
				return err
			}
			for addr := range space.Candidates() {
				ok, err := e.available(ctx, tx, subnetID, addr)
				if err != nil {
					return err
				}
				if !ok {
					continue
				}
				alloc, err = ledger.UpsertClaim(ctx, tx, subnetID, addr, req)
				return err
			}
			return ErrNoFreeAddress
		})
	})
	return alloc, finish(log, "first_free", alloc, err)
}

// ClaimSpecific claims the requested address. Validation failures are
// returned immediately; a lost race is retried and then reports the address
// as in use, since a specific request has no fallback.
func (e *Engine) ClaimSpecific(ctx context.Context, subnetID pgtype.UUID, address string, req ledger.ClaimRequest) (models.Allocation, error) {
	log := logger.WithFields(logrus.Fields{"op": "claim_specific", "subnet_id": models.IDString(subnetID), "owner": req.Owner, "address": address})

	addr, err := netip.ParseAddr(strings.TrimSpace(address))
	if err != nil || !addr.Is4() {
		return models.Allocation{}, finish(log, "specific", models.Allocation{}, fmt.Errorf("%w: not an IPv4 literal", ErrInvalidAddress))
	}

	var alloc models.Allocation
	err = retry(ctx, log, "specific", e.cfg.SpecificAttempts, func() error {
		return e.inTx(ctx, func(tx pgx.Tx) error {
			space, err := e.lock(ctx, tx, subnetID)
			if err != nil {
				return err
			}
			if err := space.Check(addr); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidAddress, err)
			}
			used, err := ledger.IsUsed(ctx, tx, subnetID, addr)
			if err != nil {
				return err
			}
			if used {
				return fmt.Errorf("%w: held in ledger", ErrAddressInUse)
			}
			if e.oracle.InUse(ctx, addr) {
				return fmt.Errorf("%w: live on network", ErrAddressInUse)
			}
			alloc, err = ledger.UpsertClaim(ctx, tx, subnetID, addr, req)
			return err
		})
	})
	return alloc, finish(log, "specific", alloc, err)
}

// FindFree returns the address ClaimFirstFree would pick right now without
// claiming it.
func (e *Engine) FindFree(ctx context.Context, subnetID pgtype.UUID) (netip.Addr, error) {
	log := logger.WithFields(logrus.Fields{"op": "find_free", "subnet_id": models.IDString(subnetID)})

	var found netip.Addr
	err := e.inTx(ctx, func(tx pgx.Tx) error {
		space, err := e.lock(ctx, tx, subnetID)
		if err != nil {
			return err
		}
		for addr := range space.Candidates() {
			ok, err := e.available(ctx, tx, subnetID, addr)
			if err != nil {
				return err
			}
			if ok {
				found = addr
				// nothing to keep; the deferred rollback releases the lock
				return errDryRun
			}
		}
		return ErrNoFreeAddress
	})
	if errors.Is(err, errDryRun) {
		err = nil
	}
	outcome := Outcome(err)
	metrics.IncClaim("find_free", outcome)
	if err != nil {
		log.WithError(err).WithField("outcome", outcome).Info("no free address found")
		return netip.Addr{}, err
	}
	log.WithField("address", found.String()).Debug("free address found")
	return found, nil
}

// Release marks the allocation RELEASED. Callers are responsible for
// checking that releasedBy may release it. Releasing an already released
// allocation returns it unchanged.
func (e *Engine) Release(ctx context.Context, allocationID pgtype.UUID, releasedBy string) (models.Allocation, error) {
	log := logger.WithFields(logrus.Fields{"op": "release", "allocation_id": models.IDString(allocationID), "released_by": releasedBy})

	var alloc models.Allocation
	err := e.inTx(ctx, func(tx pgx.Tx) error {
		current, err := ledger.GetAllocation(ctx, tx, allocationID)
		if err != nil {
			return err
		}
		if _, err := ledger.LockSubnet(ctx, tx, current.SubnetID, ledger.AnyState); err != nil {
			return err
		}
		alloc, err = ledger.Release(ctx, tx, allocationID, releasedBy)
		return err
	})
	if err != nil {
		log.WithError(err).Warn("release failed")
		return models.Allocation{}, err
	}
	metrics.IncRelease()
	log.WithField("address", alloc.Address).Info("address released")
	return alloc, nil
}

var errDryRun = errors.New("dry run")

func (e *Engine) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (e *Engine) lock(ctx context.Context, tx pgx.Tx, subnetID pgtype.UUID) (addrspace.Space, error) {
	subnet, err := ledger.LockSubnet(ctx, tx, subnetID, ledger.ActiveOnly)
	if err != nil {
		return addrspace.Space{}, err
	}
	space, err := addrspace.Parse(subnet.CIDR, subnet.GatewayString(), subnet.ExcludedIPs)
	if err != nil {
		return addrspace.Space{}, fmt.Errorf("stored subnet %s is invalid: %w", subnet.Name, err)
	}
	return space, nil
}

// available applies the ledger gate and then the liveness gate.
func (e *Engine) available(ctx context.Context, tx pgx.Tx, subnetID pgtype.UUID, addr netip.Addr) (bool, error) {
	used, err := ledger.IsUsed(ctx, tx, subnetID, addr)
	if err != nil || used {
		return false, err
	}
	return !e.oracle.InUse(ctx, addr), nil
}

func finish(log *logrus.Entry, op string, alloc models.Allocation, err error) error {
	outcome := Outcome(err)
	metrics.IncClaim(op, outcome)
	if err != nil {
		log.WithError(err).WithField("outcome", outcome).Info("claim failed")
		return err
	}
	log.WithField("address", alloc.Address).Info("address claimed")
	return nil
}
