package dhcp4d

import (
	"context"
	"net"
	"time"

	dhcp "github.com/krolaw/dhcp4"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/ipv4"

	"camprovision/internal/hwaddr"
	"camprovision/internal/ipaddr"
	"camprovision/internal/netiface"
)

// Config carries everything a Server needs at construction, rather than
// reading any of it from package-level flags or mutable defaults.
type Config struct {
	ServerAddr net.IP
	PoolStart  net.IP
	PoolEnd    net.IP
	SubnetMask net.IPMask
	LeaseTime  time.Duration

	// Interface, if set, names a local interface that must carry an
	// address in the pool's subnet: NewServer refuses to start otherwise.
	// Serve does not bind to this interface; it listens on UDP/67 on
	// every interface.
	Interface string
}

// Server is the single cooperative DHCP task. It owns one pool, one
// lease table, and one UDP/67 listener.
type Server struct {
	log   *zap.SugaredLogger
	pool  *ipaddr.Pool
	table *LeaseTable
	cfg   Config
}

// ErrBadRange is returned by NewServer when the pool's bounds are invalid.
var ErrBadRange = ipaddr.ErrBadRange

// NewServer validates cfg and builds a Server. It does not bind a socket;
// call Serve to do that.
func NewServer(cfg Config, log *zap.SugaredLogger) (*Server, error) {
	start, err := ipaddr.New(cfg.PoolStart)
	if err != nil {
		return nil, errors.Wrap(err, "pool start")
	}
	end, err := ipaddr.New(cfg.PoolEnd)
	if err != nil {
		return nil, errors.Wrap(err, "pool end")
	}
	server, err := ipaddr.New(cfg.ServerAddr)
	if err != nil {
		return nil, errors.Wrap(err, "server address")
	}

	pool, err := ipaddr.NewPool(start, end, server)
	if err != nil {
		return nil, err
	}

	if cfg.Interface != "" {
		iface, err := netiface.ByName(cfg.Interface)
		if err != nil {
			return nil, errors.Wrapf(err, "interface %q", cfg.Interface)
		}
		network := cfg.PoolStart.Mask(cfg.SubnetMask)
		if iface.IPv4 == nil || !iface.IPv4.Mask(cfg.SubnetMask).Equal(network) {
			return nil, errors.Wrapf(ErrBadRange, "interface %q has no address in pool subnet", cfg.Interface)
		}
	}

	return &Server{
		log:   log,
		pool:  pool,
		table: NewLeaseTable(pool),
		cfg:   cfg,
	}, nil
}

// Leases returns a snapshot of all currently active leases, ordered by
// discovery sequence (oldest first). Safe to call concurrently with
// Serve.
func (s *Server) Leases() []Lease {
	return s.table.Snapshot(time.Now())
}

func (s *Server) replyOptions() ReplyOptions {
	return ReplyOptions{
		SubnetMask: s.cfg.SubnetMask,
		Router:     s.cfg.ServerAddr,
		NameServer: s.cfg.ServerAddr,
		LeaseTime:  s.cfg.LeaseTime,
	}
}

// handle implements the per-hardware-address state machine for a single
// decoded packet.
// It returns the reply to broadcast, or nil to drop silently.
func (s *Server) handle(p dhcp.Packet, msgType MessageType, options dhcp.Options) dhcp.Packet {
	switch msgType {
	case Discover:
		return s.discover(p)
	case Request:
		return s.request(p, options)
	default:
		// DECLINE, RELEASE, INFORM, and anything else this server
		// doesn't recognize is dropped: leases end only by expiry, so a
		// stray client's RELEASE can't free an address out from under a
		// device mid-provisioning.
		return nil
	}
}

func (s *Server) discover(p dhcp.Packet) dhcp.Packet {
	hw, err := hwaddr.Parse(p.CHAddr().String())
	if err != nil {
		return nil
	}

	l, ok := s.table.Offer(hw, s.cfg.LeaseTime, time.Now())
	if !ok {
		metrics.exhausted.Inc()
		s.log.Infow("pool depleted, dropping DISCOVER", "hw", hw)
		return nil
	}

	metrics.offers.Inc()
	s.log.Infow("OFFER", "hw", hw, "addr", l.Addr.String())
	return BuildOffer(p, s.cfg.ServerAddr, l.Addr.IP(), s.replyOptions())
}

func (s *Server) request(p dhcp.Packet, options dhcp.Options) dhcp.Packet {
	hw, err := hwaddr.Parse(p.CHAddr().String())
	if err != nil {
		return nil
	}

	// If a server identifier is present and names a different server,
	// this REQUEST is destined for someone else on the segment.
	if sid, ok := options[dhcp.OptionServerIdentifier]; ok {
		if !net.IP(sid).Equal(s.cfg.ServerAddr) {
			return nil
		}
	}

	reqAddr := net.IP(options[dhcp.OptionRequestedIPAddress])
	if reqAddr == nil {
		reqAddr = p.CIAddr()
	}
	addr, err := ipaddr.New(reqAddr)
	if err != nil {
		return nil
	}

	if !s.table.Confirm(hw, addr, s.cfg.LeaseTime, time.Now()) {
		// Unknown REQUESTs are dropped rather than NAKed, so a stray
		// client on the segment can't disturb valid leases.
		s.log.Infow("ignoring REQUEST for unrecognized lease", "hw", hw, "addr", addr)
		return nil
	}

	metrics.acks.Inc()
	s.log.Infow("ACK", "hw", hw, "addr", addr)
	return BuildAck(p, s.cfg.ServerAddr, addr.IP(), s.replyOptions())
}

// multiConn wraps an ipv4.PacketConn so every inbound read also yields
// the interface it arrived on, and replies go back out the interface
// the request came in on rather than whichever one the kernel picks.
type multiConn struct {
	conn *ipv4.PacketConn
	cm   *ipv4.ControlMessage
}

func (m *multiConn) ReadFrom(b []byte) (n int, addr net.Addr, err error) {
	n, m.cm, addr, err = m.conn.ReadFrom(b)
	return n, addr, err
}

func (m *multiConn) WriteTo(b []byte, addr net.Addr) (n int, err error) {
	if m.cm != nil {
		m.cm.Src = nil
	}
	return m.conn.WriteTo(b, m.cm, addr)
}

// Serve binds UDP/67 and runs the server loop until ctx is canceled. It
// processes one datagram end-to-end before the next, giving lease-table
// mutations a total order visible to external readers. A 1-second
// receive deadline, not a per-request timeout, bounds how long shutdown can
// take to notice cancellation.
func (s *Server) Serve(ctx context.Context) error {
	conn, err := net.ListenPacket("udp4", ":67")
	if err != nil {
		return errors.Wrap(err, "bind udp/67")
	}
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)
	if err := pc.SetControlMessage(ipv4.FlagInterface, true); err != nil {
		return errors.Wrap(err, "enable control messages")
	}
	mc := &multiConn{conn: pc}

	buf := make([]byte, 1500)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := mc.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return errors.Wrap(err, "read")
		}

		p, msgType, options, ok := Parse(buf[:n])
		if !ok {
			continue
		}

		reply := s.handle(p, msgType, options)
		if reply == nil {
			continue
		}

		bcast := &net.UDPAddr{IP: net.IPv4bcast, Port: 68}
		if _, err := mc.WriteTo(reply, bcast); err != nil {
			s.log.Warnw("write failed", "error", err)
		}
	}
}
