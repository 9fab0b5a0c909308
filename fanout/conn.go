// Package fanout implements a one-to-many net.Conn for UDP DNS queries.
// Every Write goes out on all connections, and Read returns the first packet received from any of them.
// All connections implement both net.Conn and net.PacketConn, so a fanout Conn can be returned from a net.Resolver's Dial func.
package fanout

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
)

const maxPacketSize = 65535

// Conn is a fanout connection
type Conn interface {
	PacketConn
	Stats() Stats
}

// PacketConn implements both net.Conn and net.PacketConn
type PacketConn interface {
	io.Reader
	io.Writer
	RemoteAddr() net.Addr
	net.PacketConn
}

// Stats describe which remote answered first, if any
type Stats struct {
	FastestRemoteIndex int
	FastestRemote      net.Addr
}

type packet struct {
	b    []byte
	addr net.Addr
}

type fanoutConn struct {
	conns []PacketConn

	startReaders sync.Once
	packets      chan packet
	readersDone  chan struct{}
	liveReaders  *atomic.Int64
	lastReadErr  *atomic.Error

	closeOnce sync.Once
	closed    chan struct{}

	firstResponder *atomic.Int64
}

// New returns a Conn spanning all of 'conns'. Panics if 'conns' is empty.
func New(conns []PacketConn) Conn {
	if len(conns) == 0 {
		panic("connection count must be non-zero")
	}
	return &fanoutConn{
		conns:       conns,
		packets:     make(chan packet, len(conns)),
		readersDone: make(chan struct{}),
		liveReaders: atomic.NewInt64(int64(len(conns))),
		lastReadErr: atomic.NewError(nil),
		closed:      make(chan struct{}),

		firstResponder: atomic.NewInt64(-1), // -1 marks no responder yet
	}
}

func (f *fanoutConn) Stats() Stats {
	ix := int(f.firstResponder.Load())
	if ix < 0 {
		ix = 0
	}
	return Stats{
		FastestRemoteIndex: ix,
		FastestRemote:      f.conns[ix].RemoteAddr(),
	}
}

// readLoop forwards packets from one connection until it fails or the fanout closes
func (f *fanoutConn) readLoop(ix int, conn PacketConn) {
	defer func() {
		if f.liveReaders.Dec() == 0 {
			close(f.readersDone)
		}
	}()
	for {
		buf := make([]byte, maxPacketSize)
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			f.lastReadErr.Store(err)
			return
		}
		f.firstResponder.CompareAndSwap(-1, int64(ix))
		select {
		case f.packets <- packet{b: buf[:n], addr: addr}:
		case <-f.closed:
			return
		}
	}
}

func (f *fanoutConn) ensureReading() {
	f.startReaders.Do(func() {
		for ix, conn := range f.conns {
			go f.readLoop(ix, conn)
		}
	})
}

func (f *fanoutConn) next() (packet, error) {
	f.ensureReading()
	select {
	case p := <-f.packets:
		return p, nil
	case <-f.closed:
		return packet{}, net.ErrClosed
	case <-f.readersDone:
	}
	// a packet may have arrived just before the last reader failed
	select {
	case p := <-f.packets:
		return p, nil
	default:
	}
	err := f.lastReadErr.Load()
	if err == nil {
		return packet{}, net.ErrClosed
	}
	if _, isNetErr := err.(net.Error); isNetErr { //nolint:errorlint // Keep timeouts visible to net.Resolver.
		return packet{}, err
	}
	return packet{}, errors.Wrap(err, "all connections have failed to read")
}

func (f *fanoutConn) Read(b []byte) (int, error) {
	p, err := f.next()
	if err != nil {
		return 0, err
	}
	return copy(b, p.b), nil
}

// ReadFrom implements net.PacketConn. The returned address is the remote that sent the packet.
func (f *fanoutConn) ReadFrom(b []byte) (int, net.Addr, error) {
	p, err := f.next()
	if err != nil {
		return 0, nil, err
	}
	return copy(b, p.b), p.addr, nil
}

// writeAll succeeds if at least one connection accepted the write
func (f *fanoutConn) writeAll(op string, write func(conn PacketConn) error) error {
	var errs error
	for _, conn := range f.conns {
		errs = multierr.Append(errs, write(conn))
	}
	if len(multierr.Errors(errs)) == len(f.conns) {
		return errors.Wrapf(errs, "all connections have failed for %q", op)
	}
	return nil
}

func (f *fanoutConn) Write(b []byte) (int, error) {
	err := f.writeAll("write", func(conn PacketConn) error {
		_, err := conn.Write(b)
		return err
	})
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// WriteTo implements net.PacketConn. Connected UDP sockets reject WriteTo, so prefer Write.
func (f *fanoutConn) WriteTo(b []byte, addr net.Addr) (int, error) {
	err := f.writeAll("write to", func(conn PacketConn) error {
		_, err := conn.WriteTo(b, addr)
		return err
	})
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

func (f *fanoutConn) Close() error {
	var errs error
	f.closeOnce.Do(func() {
		close(f.closed)
		for _, conn := range f.conns {
			errs = multierr.Append(errs, conn.Close())
		}
	})
	return errs
}

func (f *fanoutConn) LocalAddr() net.Addr {
	return f.conns[0].LocalAddr()
}

func (f *fanoutConn) RemoteAddr() net.Addr {
	return f.conns[0].RemoteAddr()
}

func (f *fanoutConn) setAll(set func(conn PacketConn) error) error {
	var errs error
	for _, conn := range f.conns {
		errs = multierr.Append(errs, set(conn))
	}
	return errs
}

func (f *fanoutConn) SetDeadline(t time.Time) error {
	return f.setAll(func(conn PacketConn) error { return conn.SetDeadline(t) })
}

func (f *fanoutConn) SetReadDeadline(t time.Time) error {
	return f.setAll(func(conn PacketConn) error { return conn.SetReadDeadline(t) })
}

func (f *fanoutConn) SetWriteDeadline(t time.Time) error {
	return f.setAll(func(conn PacketConn) error { return conn.SetWriteDeadline(t) })
}
