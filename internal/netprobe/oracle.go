// Package netprobe answers whether an IPv4 address is currently active on the
// local network, independently of the allocation ledger.
package netprobe

import (
	"context"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ttani03/lan-ipam/internal/logger"
	"github.com/ttani03/lan-ipam/internal/metrics"
)

// Prober supplies the two raw liveness signals.
type Prober interface {
	// NeighborResolved reports whether the kernel neighbor table on iface
	// holds a hardware address for addr.
	NeighborResolved(ctx context.Context, addr netip.Addr, iface string) (bool, error)
	// EchoReply sends one echo request and reports whether a reply arrived
	// within timeout.
	EchoReply(ctx context.Context, addr netip.Addr, timeout time.Duration) (bool, error)
}

// FailurePolicy decides what a probe error means.
type FailurePolicy int

const (
	// FailOpen treats a probe error as "not confirmed in use". Allocation
	// keeps working while probing tooling is broken, at the risk of handing
	// out an address held by a live host.
	FailOpen FailurePolicy = iota
	// FailClosed treats a probe error as "in use".
	FailClosed
)

func (p FailurePolicy) String() string {
	if p == FailClosed {
		return "closed"
	}
	return "open"
}

// ParsePolicy maps "open" / "closed" to a FailurePolicy.
func ParsePolicy(s string) FailurePolicy {
	if s == "closed" {
		return FailClosed
	}
	return FailOpen
}

type Options struct {
	Interface string
	Timeout   time.Duration
	Policy    FailurePolicy
}

// Oracle combines the neighbor and echo signals with OR semantics.
type Oracle struct {
	prober Prober
	opts   Options
}

func NewOracle(p Prober, opts Options) *Oracle {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Second
	}
	return &Oracle{prober: p, opts: opts}
}

// InUse reports whether addr appears live on the LAN. The neighbor table is
// consulted first; the echo probe runs only when it did not resolve the
// address. Errors never escape: they are resolved by the failure policy.
func (o *Oracle) InUse(ctx context.Context, addr netip.Addr) bool {
	log := logger.WithFields(logrus.Fields{"address": addr.String(), "iface": o.opts.Interface})

	seen, err := o.prober.NeighborResolved(ctx, addr, o.opts.Interface)
	switch {
	case err != nil:
		metrics.IncProbe("neighbor", "error")
		if o.onError(log.WithField("signal", "neighbor"), err) {
			return true
		}
	case seen:
		metrics.IncProbe("neighbor", "alive")
		log.Debug("address present in neighbor table")
		return true
	default:
		metrics.IncProbe("neighbor", "silent")
	}

	alive, err := o.prober.EchoReply(ctx, addr, o.opts.Timeout)
	switch {
	case err != nil:
		metrics.IncProbe("echo", "error")
		return o.onError(log.WithField("signal", "echo"), err)
	case alive:
		metrics.IncProbe("echo", "alive")
		log.Debug("address answered echo probe")
		return true
	default:
		metrics.IncProbe("echo", "silent")
		return false
	}
}

func (o *Oracle) onError(log *logrus.Entry, err error) bool {
	if o.opts.Policy == FailClosed {
		log.WithError(err).Warn("probe failed, treating address as in use")
		return true
	}
	log.WithError(err).Warn("probe failed, treating address as free; double assignment is possible while probing is broken")
	return false
}
