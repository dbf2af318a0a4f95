package probe

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	psnet "github.com/shirou/gopsutil/v3/net"
)

// ListenerLister returns TCP connections on the host.
type ListenerLister func(ctx context.Context) ([]psnet.ConnectionStat, error)

// PortProbe matches when something listens on a TCP port. It reads the
// socket table first and falls back to a bounded loopback dial when the
// table is not readable (unprivileged on macOS, for one).
type PortProbe struct {
	base
	port    int
	timeout time.Duration
	list    ListenerLister
	dial    func(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewPort returns a port probe. A nil lister uses gopsutil.
func NewPort(d Declaration, port int, timeout time.Duration, list ListenerLister) *PortProbe {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if list == nil {
		list = func(ctx context.Context) ([]psnet.ConnectionStat, error) {
			return psnet.ConnectionsWithContext(ctx, "tcp")
		}
	}
	dialer := &net.Dialer{}
	return &PortProbe{base: newBase(d), port: port, timeout: timeout, list: list, dial: dialer.DialContext}
}

func (p *PortProbe) Execute(ctx context.Context) Outcome {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	loc := fmt.Sprintf("tcp/%d", p.port)

	conns, err := p.list(ctx)
	if err == nil {
		for _, c := range conns {
			if c.Status == "LISTEN" && c.Laddr.Port == uint32(p.port) {
				return p.found(fmt.Sprintf("%s: %s listening on %s (pid %d)", p.description, loc, c.Laddr.IP, c.Pid),
					Resource{Kind: ResourcePort, Location: loc, Detail: strconv.Itoa(int(c.Pid))})
			}
		}
		return Outcome{}
	}
	log.Debug("socket table unavailable, dialing", "probe", p.id, "error", err)

	// A refused or timed-out dial is "nothing listening", never an error.
	conn, dialErr := p.dial(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(p.port)))
	if dialErr != nil {
		return Outcome{}
	}
	conn.Close()
	return p.found(fmt.Sprintf("%s: %s accepting connections on loopback", p.description, loc),
		Resource{Kind: ResourcePort, Location: loc})
}
