package messaging

import (
	"net"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// pipeConnection returns a started connection over an in-memory pipe whose
// other end nobody reads.
func pipeConnection(t *testing.T) *Connection {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { _ = server.Close() })

	cfg, err := Config{Logger: zaptest.NewLogger(t)}.withDefaults()
	require.NoError(t, err)
	c := newConnection(client, cfg)
	c.start()
	t.Cleanup(func() { _ = c.Close(false, nil, 0) })
	return c
}

func stoppedWithin(c *Connection, d time.Duration) bool {
	select {
	case <-c.stopped:
		return true
	case <-time.After(d):
		return false
	}
}

func TestCloseJoinsDaemons(t *testing.T) {
	c := pipeConnection(t)

	require.NoError(t, c.Close(false, nil, 0))

	select {
	case <-c.stopped:
	default:
		t.Fatal("daemons still running after Close returned")
	}
}

func TestCloseFromDispatcher(t *testing.T) {
	c := pipeConnection(t)

	cause := errors.New("read failed")
	c.inbound <- &CloseConnection{Cause: cause}

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("connection not closed")
	}
	assert.True(t, stoppedWithin(c, time.Second))
	assert.Equal(t, cause, c.Err())
}

func TestCreatedChannelIsOpening(t *testing.T) {
	c := pipeConnection(t)
	c.mu.Lock()
	c.factories[MessagingProtocolName] = c.channel0.MessageFactory()
	c.mu.Unlock()

	ch, err := c.createChannel(3, MessagingProtocolName, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, ChannelOpening, ch.State())
	assert.Same(t, ch, c.Channel(3))

	_, err = ch.Send(&NotifyChannelClosed{ChannelID: 3})
	require.Error(t, err)

	ch.opened()
	assert.Equal(t, ChannelOpen, ch.State())

	// a channel closed before its response hook finished stays closed
	closed, err := c.createChannel(4, MessagingProtocolName, nil, nil)
	require.NoError(t, err)
	closed.close(false, &ChannelClosedError{ChannelID: 4})
	closed.opened()
	assert.Equal(t, ChannelClosed, closed.State())
	assert.Nil(t, c.Channel(4))
}
