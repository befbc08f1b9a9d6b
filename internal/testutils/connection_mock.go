package testutils

import (
	"bytes"
	"net"
	"sync"
	"time"
)

// ConnectionMock is a net.Conn with no peer. Reads block until it is
// closed. Writes succeed until writeLimit bytes were written, then fail
// with writeErr; a nil writeErr never fails.
type ConnectionMock struct {
	mu         sync.Mutex
	written    bytes.Buffer
	writeLimit int
	writeErr   error

	closeOnce sync.Once
	closed    chan struct{}
}

func NewConnectionMock(writeLimit int, writeErr error) *ConnectionMock {
	return &ConnectionMock{
		writeLimit: writeLimit,
		writeErr:   writeErr,
		closed:     make(chan struct{}),
	}
}

func (m *ConnectionMock) Read(b []byte) (n int, err error) {
	<-m.closed
	return 0, net.ErrClosed
}

func (m *ConnectionMock) Write(b []byte) (n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.IsClosed() {
		return 0, net.ErrClosed
	}
	if m.writeErr != nil && m.written.Len()+len(b) > m.writeLimit {
		return 0, m.writeErr
	}
	return m.written.Write(b)
}

func (m *ConnectionMock) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}

func (m *ConnectionMock) IsClosed() bool {
	select {
	case <-m.closed:
		return true
	default:
		return false
	}
}

// Written returns the bytes written so far.
func (m *ConnectionMock) Written() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bytes.Clone(m.written.Bytes())
}

func (m *ConnectionMock) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 40000}
}

func (m *ConnectionMock) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9099}
}

func (m *ConnectionMock) SetDeadline(t time.Time) error      { return nil }
func (m *ConnectionMock) SetReadDeadline(t time.Time) error  { return nil }
func (m *ConnectionMock) SetWriteDeadline(t time.Time) error { return nil }
