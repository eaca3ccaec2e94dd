//go:build linux

package netio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sys/unix"

	"github.com/gpsr-go/gogpsr/internal/gpsr"
)

// ErrUnexpectedConnType indicates net.ListenPacket returned a connection
// type other than *net.UDPConn.
var ErrUnexpectedConnType = errors.New("unexpected connection type from ListenPacket")

// ErrSocketClosed indicates an operation on a closed BroadcastSocket.
var ErrSocketClosed = errors.New("socket closed")

// BroadcastSocket implements gpsr.Socket over a real UDP socket
// configured for LAN broadcast: SO_BROADCAST, SO_REUSEADDR, and an
// outgoing TTL the caller controls (hellos use 1; see spec's control
// traffic never needing to survive more than one hop).
type BroadcastSocket struct {
	conn   *net.UDPConn
	port   uint16
	mu     sync.Mutex
	closed bool

	recvCancel context.CancelFunc
	onRecv     func(buf []byte, src netip.Addr)
}

// NewBroadcastSocket creates an unbound BroadcastSocket; Bind must be
// called before use.
func NewBroadcastSocket() *BroadcastSocket {
	return &BroadcastSocket{}
}

// Bind binds the socket to addr:port, retrying any failed attempt up to
// five times with exponential backoff before giving up.
func (s *BroadcastSocket) Bind(addr netip.Addr, port uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	laddr := netip.AddrPortFrom(addr, port)

	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)
	var conn *net.UDPConn
	err := backoff.Retry(func() error {
		c, dialErr := dialBroadcastSocket(laddr)
		if dialErr != nil {
			return dialErr
		}
		conn = c
		return nil
	}, bo)
	if err != nil {
		return fmt.Errorf("bind broadcast socket %s: %w", laddr, err)
	}

	s.conn = conn
	s.port = port
	return nil
}

func dialBroadcastSocket(laddr netip.AddrPort) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				//nolint:gosec // G115: fd is always a small positive kernel descriptor.
				sockErr = setBroadcastSockOpts(int(fd))
			})
			if err != nil {
				return fmt.Errorf("raw conn control: %w", err)
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", laddr.String())
	if err != nil {
		return nil, fmt.Errorf("listen UDP %s: %w", laddr, err)
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		_ = pc.Close()
		return nil, ErrUnexpectedConnType
	}
	return conn, nil
}

func setBroadcastSockOpts(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("set SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
		return fmt.Errorf("set SO_BROADCAST: %w", err)
	}
	return nil
}

// SetBroadcast is a no-op past Bind time: SO_BROADCAST is set
// unconditionally at socket creation, since every gpsr control socket
// needs it.
func (s *BroadcastSocket) SetBroadcast(enable bool) error {
	return nil
}

// SetTTL sets the outgoing IP TTL, e.g. 1 for a hello that must not
// cross a router.
func (s *BroadcastSocket) SetTTL(ttl int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return fmt.Errorf("set TTL: %w", ErrSocketClosed)
	}
	rawConn, err := s.conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("set TTL: %w", err)
	}
	var sockErr error
	err = rawConn.Control(func(fd uintptr) {
		//nolint:gosec // G115: fd is always a small positive kernel descriptor.
		sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TTL, ttl)
	})
	if err != nil {
		return fmt.Errorf("set TTL: %w", err)
	}
	return sockErr
}

// SendTo transmits buf to dst on the port this socket was bound to,
// matching the control port every peer listens on (spec §6's control
// port is a default, not a hardcoded wire constant).
func (s *BroadcastSocket) SendTo(ctx context.Context, buf []byte, dst netip.Addr) error {
	s.mu.Lock()
	conn := s.conn
	closed := s.closed
	port := s.port
	s.mu.Unlock()

	if closed || conn == nil {
		return fmt.Errorf("send to %s: %w", dst, ErrSocketClosed)
	}

	udpAddr := net.UDPAddrFromAddrPort(netip.AddrPortFrom(dst, port))
	if _, err := conn.WriteToUDP(buf, udpAddr); err != nil {
		return fmt.Errorf("send to %s: %w", dst, err)
	}
	return nil
}

// OnReceive installs fn as the inbound packet callback and starts the
// receive loop. Calling OnReceive again replaces fn without starting a
// second loop.
func (s *BroadcastSocket) OnReceive(fn func(buf []byte, src netip.Addr)) {
	s.mu.Lock()
	s.onRecv = fn
	alreadyRunning := s.recvCancel != nil
	conn := s.conn
	s.mu.Unlock()

	if alreadyRunning || conn == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.recvCancel = cancel
	s.mu.Unlock()

	go s.recvLoop(ctx, conn)
}

func (s *BroadcastSocket) recvLoop(ctx context.Context, conn *net.UDPConn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		bufp, _ := gpsr.PacketPool.Get().(*[]byte)

		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, src, err := conn.ReadFromUDP(*bufp)
		if err != nil {
			gpsr.PacketPool.Put(bufp)
			if ctx.Err() != nil {
				return
			}
			continue
		}

		addr, ok := netip.AddrFromSlice(src.IP.To4())
		if !ok {
			gpsr.PacketPool.Put(bufp)
			continue
		}

		s.mu.Lock()
		cb := s.onRecv
		s.mu.Unlock()
		if cb != nil {
			cb((*bufp)[:n], addr)
		}
		gpsr.PacketPool.Put(bufp)
	}
}

// Close releases the underlying socket and stops the receive loop.
func (s *BroadcastSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if s.recvCancel != nil {
		s.recvCancel()
	}
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("close broadcast socket: %w", err)
	}
	return nil
}

var _ gpsr.Socket = (*BroadcastSocket)(nil)
