package netprobe

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/netip"
	"os/exec"
	"strconv"
	"time"

	"github.com/vishvananda/netlink"
)

// SystemProber reads the kernel neighbor table over netlink and shells out to
// ping for echo probes.
type SystemProber struct {
	// PingPath defaults to "ping" looked up on PATH.
	PingPath string
}

func NewSystemProber() *SystemProber { return &SystemProber{PingPath: "ping"} }

func (p *SystemProber) NeighborResolved(_ context.Context, addr netip.Addr, iface string) (bool, error) {
	link, err := netlink.LinkByName(iface)
	if err != nil {
		return false, fmt.Errorf("lookup interface %s: %w", iface, err)
	}
	neighs, err := netlink.NeighList(link.Attrs().Index, netlink.FAMILY_V4)
	if err != nil {
		return false, fmt.Errorf("list neighbors on %s: %w", iface, err)
	}
	for _, n := range neighs {
		ip, ok := netip.AddrFromSlice(n.IP)
		if !ok || ip.Unmap() != addr {
			continue
		}
		if len(n.HardwareAddr) > 0 && n.State&netlink.NUD_FAILED == 0 {
			return true, nil
		}
	}
	return false, nil
}

func (p *SystemProber) EchoReply(ctx context.Context, addr netip.Addr, timeout time.Duration) (bool, error) {
	secs := int(math.Max(1, math.Floor(timeout.Seconds())))
	// ping's own -W bounds the wait; the context deadline only guards a hung process.
	ctx, cancel := context.WithTimeout(ctx, time.Duration(secs+1)*time.Second)
	defer cancel()

	path := p.PingPath
	if path == "" {
		path = "ping"
	}
	cmd := exec.CommandContext(ctx, path, "-c", "1", "-W", strconv.Itoa(secs), addr.String())
	err := cmd.Run()
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	// ping exits 1 when no reply was received; anything else is a tooling failure.
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("ping %s: %w", addr, err)
}
