package netprobe

import (
	"context"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProber struct {
	neighbor    bool
	neighborErr error
	echo        bool
	echoErr     error

	neighborCalls int
	echoCalls     int
	gotTimeout    time.Duration
}

func (s *stubProber) NeighborResolved(_ context.Context, _ netip.Addr, _ string) (bool, error) {
	s.neighborCalls++
	return s.neighbor, s.neighborErr
}

func (s *stubProber) EchoReply(_ context.Context, _ netip.Addr, timeout time.Duration) (bool, error) {
	s.echoCalls++
	s.gotTimeout = timeout
	return s.echo, s.echoErr
}

var target = netip.MustParseAddr("192.168.1.20")

func TestOracle_NeighborHitSkipsEcho(t *testing.T) {
	p := &stubProber{neighbor: true}
	o := NewOracle(p, Options{Interface: "eth0", Timeout: time.Second})

	assert.True(t, o.InUse(context.Background(), target))
	assert.Equal(t, 1, p.neighborCalls)
	assert.Equal(t, 0, p.echoCalls)
}

func TestOracle_EchoReply(t *testing.T) {
	p := &stubProber{echo: true}
	o := NewOracle(p, Options{Interface: "eth0", Timeout: 500 * time.Millisecond})

	assert.True(t, o.InUse(context.Background(), target))
	assert.Equal(t, 1, p.echoCalls)
	assert.Equal(t, 500*time.Millisecond, p.gotTimeout)
}

func TestOracle_BothSilent(t *testing.T) {
	p := &stubProber{}
	o := NewOracle(p, Options{Interface: "eth0"})

	assert.False(t, o.InUse(context.Background(), target))
	assert.Equal(t, time.Second, p.gotTimeout, "zero timeout falls back to one second")
}

func TestOracle_FailurePolicy(t *testing.T) {
	boom := errors.New("tooling unavailable")

	tests := []struct {
		name   string
		prober *stubProber
		policy FailurePolicy
		want   bool
	}{
		{"open, both fail", &stubProber{neighborErr: boom, echoErr: boom}, FailOpen, false},
		{"open, neighbor fails, echo alive", &stubProber{neighborErr: boom, echo: true}, FailOpen, true},
		{"open, echo fails", &stubProber{echoErr: boom}, FailOpen, false},
		{"closed, neighbor fails", &stubProber{neighborErr: boom}, FailClosed, true},
		{"closed, echo fails", &stubProber{echoErr: boom}, FailClosed, true},
		{"closed, no failure", &stubProber{}, FailClosed, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOracle(tt.prober, Options{Interface: "eth0", Policy: tt.policy})
			assert.Equal(t, tt.want, o.InUse(context.Background(), target))
		})
	}
}

func TestParsePolicy(t *testing.T) {
	assert.Equal(t, FailClosed, ParsePolicy("closed"))
	assert.Equal(t, FailOpen, ParsePolicy("open"))
	assert.Equal(t, FailOpen, ParsePolicy(""))
	assert.Equal(t, "closed", FailClosed.String())
}

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ping")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestSystemProber_EchoReply(t *testing.T) {
	tests := []struct {
		name    string
		script  string
		alive   bool
		wantErr bool
	}{
		{"reply", "exit 0", true, false},
		{"no reply", "exit 1", false, false},
		{"ping error", "exit 2", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &SystemProber{PingPath: writeScript(t, tt.script)}
			alive, err := p.EchoReply(context.Background(), target, time.Second)
			assert.Equal(t, tt.alive, alive)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestSystemProber_EchoArgs(t *testing.T) {
	tests := []struct {
		timeout time.Duration
		want    string
	}{
		{300 * time.Millisecond, "-c 1 -W 1 192.168.1.20\n"},
		{1500 * time.Millisecond, "-c 1 -W 1 192.168.1.20\n"},
		{2 * time.Second, "-c 1 -W 2 192.168.1.20\n"},
	}
	for _, tt := range tests {
		t.Run(tt.timeout.String(), func(t *testing.T) {
			out := filepath.Join(t.TempDir(), "args")
			p := &SystemProber{PingPath: writeScript(t, `echo "$@" > `+out)}

			_, err := p.EchoReply(context.Background(), target, tt.timeout)
			require.NoError(t, err)

			b, err := os.ReadFile(out)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(b))
		})
	}
}

func TestSystemProber_MissingBinary(t *testing.T) {
	p := &SystemProber{PingPath: filepath.Join(t.TempDir(), "does-not-exist")}
	_, err := p.EchoReply(context.Background(), target, time.Second)
	assert.Error(t, err)
}

func TestSystemProber_UnknownInterface(t *testing.T) {
	p := NewSystemProber()
	_, err := p.NeighborResolved(context.Background(), target, "ipam-no-such-if0")
	assert.Error(t, err)
}
