package messaging

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ChannelState is the lifecycle state of a Channel.
type ChannelState int32

const (
	ChannelOpening ChannelState = iota
	ChannelOpen
	ChannelClosing
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelOpening:
		return "opening"
	case ChannelOpen:
		return "open"
	case ChannelClosing:
		return "closing"
	case ChannelClosed:
		return "closed"
	}
	return "ChannelState(" + strconv.Itoa(int(s)) + ")"
}

// Channel is a virtual stream of messages within a Connection. Channel 0
// exists for the whole life of its connection and carries the lifecycle
// messages of MessagingProtocol.
type Channel struct {
	id      int32
	conn    *Connection
	subject *Subject
	log     *zap.Logger

	mu       sync.Mutex
	state    ChannelState
	factory  *MessageFactory
	receiver Receiver
	lastID   int64
	pending  map[int64]*Status
	attrs    map[string]any
	closeErr error
}

func newChannel(conn *Connection, id int32, factory *MessageFactory, receiver Receiver, subject *Subject) *Channel {
	return &Channel{
		id:       id,
		conn:     conn,
		subject:  subject,
		log:      conn.log.With(zap.Int32("channel", id)),
		factory:  factory,
		receiver: receiver,
		pending:  make(map[int64]*Status),
		attrs:    make(map[string]any),
	}
}

func (ch *Channel) ID() int32               { return ch.id }
func (ch *Channel) Connection() *Connection { return ch.conn }
func (ch *Channel) Subject() *Subject       { return ch.subject }

func (ch *Channel) MessageFactory() *MessageFactory {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.factory
}

func (ch *Channel) setFactory(f *MessageFactory) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.factory = f
}

func (ch *Channel) Receiver() Receiver {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.receiver
}

func (ch *Channel) State() ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

func (ch *Channel) setState(s ChannelState) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.state = s
}

// opened moves an Opening channel to Open. A channel closed meanwhile stays
// closed.
func (ch *Channel) opened() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.state == ChannelOpening {
		ch.state = ChannelOpen
	}
}

func (ch *Channel) IsOpen() bool { return ch.State() == ChannelOpen }

// Err returns why the channel closed, or nil while it is open.
func (ch *Channel) Err() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closeErr
}

// PendingCount returns the number of requests awaiting a response.
func (ch *Channel) PendingCount() int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return len(ch.pending)
}

func (ch *Channel) Attribute(name string) (any, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	v, ok := ch.attrs[name]
	return v, ok
}

func (ch *Channel) SetAttribute(name string, v any) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.attrs[name] = v
}

// RemoveAttribute deletes name and returns its previous value.
func (ch *Channel) RemoveAttribute(name string) any {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	v := ch.attrs[name]
	delete(ch.attrs, name)
	return v
}

func (ch *Channel) closedErr() error {
	if ch.closeErr != nil {
		return ch.closeErr
	}
	return &ChannelClosedError{ChannelID: ch.id}
}

// Send queues msg for delivery. For a Request it assigns the next request
// id unless one is set and returns the Status to wait on; for other
// messages the Status is nil. An id set by the caller must be greater than
// every id already used on the channel.
func (ch *Channel) Send(msg Message) (*Status, error) {
	req, isRequest := msg.(Request)

	ch.mu.Lock()
	if ch.state != ChannelOpen {
		err := ch.closedErr()
		ch.mu.Unlock()
		return nil, err
	}
	var st *Status
	if isRequest {
		id := req.RequestID()
		switch {
		case id == 0:
			ch.lastID++
			id = ch.lastID
			req.SetRequestID(id)
		case id > ch.lastID:
			ch.lastID = id
		default:
			ch.mu.Unlock()
			return nil, errors.Wrapf(ErrRequestIDUsed, "request %d on channel %d", id, ch.id)
		}
		st = newStatus(ch, req)
		ch.pending[id] = st
	}
	ch.mu.Unlock()

	if err := ch.conn.send(ch.id, msg); err != nil {
		if st != nil {
			ch.removePending(st.id)
			st.complete(nil, err)
		}
		return nil, err
	}
	return st, nil
}

// Request sends req and waits for its response. Without a deadline on ctx
// the request timeout of the connection applies. Every failure is a
// *RequestError.
func (ch *Channel) Request(ctx context.Context, req Request) (Response, error) {
	if _, ok := ctx.Deadline(); !ok && ch.conn.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ch.conn.cfg.RequestTimeout)
		defer cancel()
	}

	st, err := ch.Send(req)
	if err != nil {
		return nil, &RequestError{ChannelID: ch.id, RequestID: req.RequestID(), Err: err}
	}
	return st.Wait(ctx)
}

// RequestTimeout is Request bounded by timeout instead of a context.
func (ch *Channel) RequestTimeout(req Request, timeout time.Duration) (Response, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return ch.Request(ctx, req)
}

func (ch *Channel) removePending(id int64) *Status {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	st := ch.pending[id]
	delete(ch.pending, id)
	return st
}

// failPending fails the request id with err, if it is still pending.
func (ch *Channel) failPending(id int64, err error) {
	if st := ch.removePending(id); st != nil {
		st.complete(nil, err)
	}
}

// receive handles a decoded message. It runs on the dispatcher.
func (ch *Channel) receive(msg Message) {
	if resp, ok := msg.(Response); ok {
		st := ch.removePending(resp.RequestID())
		if st == nil {
			ch.conn.stats.droppedResponses.Add(1)
			ch.log.Debug("dropping response without pending request",
				zap.Int64("request", resp.RequestID()), zap.Int32("type", msg.TypeID()))
			return
		}
		if hook, ok := msg.(responseHook); ok {
			if err := hook.onResponse(ch, st.request); err != nil {
				st.complete(nil, err)
				return
			}
		}
		st.complete(resp, nil)
		return
	}

	if receiver := ch.Receiver(); receiver != nil {
		if err := receiver.OnMessage(ch, msg); err != nil {
			ch.log.Warn("receiver failed", zap.String("receiver", receiver.Name()),
				zap.Int32("type", msg.TypeID()), zap.Error(err))
		}
		return
	}
	if r, ok := msg.(Runnable); ok {
		if err := r.Run(ch); err != nil {
			ch.log.Warn("message handling failed", zap.Int32("type", msg.TypeID()), zap.Error(err))
		}
		return
	}
	ch.log.Warn("dropping unhandled message", zap.Int32("type", msg.TypeID()))
}

// Close closes the channel, notifying the peer, and fails its pending
// requests with a *ChannelClosedError. Closing channel 0 closes the
// connection.
func (ch *Channel) Close() error {
	if ch.id == 0 {
		return ch.conn.Close(true, nil, 0)
	}
	ch.close(true, &ChannelClosedError{ChannelID: ch.id})
	return nil
}

func (ch *Channel) close(notify bool, cause error) {
	ch.mu.Lock()
	if ch.state >= ChannelClosing {
		ch.mu.Unlock()
		return
	}
	ch.state = ChannelClosing
	ch.closeErr = cause
	pending := ch.pending
	ch.pending = make(map[int64]*Status)
	receiver := ch.receiver
	ch.receiver = nil
	ch.mu.Unlock()

	if notify && ch.id != 0 {
		msg := &NotifyChannelClosed{ChannelID: ch.id}
		if cause != nil {
			msg.Cause = cause.Error()
		}
		if _, err := ch.conn.channel0.Send(msg); err != nil {
			ch.log.Debug("could not notify peer of channel close", zap.Error(err))
		}
	}

	for _, st := range pending {
		st.complete(nil, cause)
	}
	ch.conn.removeChannel(ch)
	ch.setState(ChannelClosed)

	if l, ok := receiver.(ChannelCloseListener); ok {
		l.OnChannelClosed(ch, cause)
	}
	ch.log.Debug("channel closed", zap.Int("failedRequests", len(pending)), zap.Error(cause))
}

const channelURIScheme = "channel:"

// ChannelURI names a channel the peer offers, as returned by requests that
// create companion channels.
func ChannelURI(id int32, protocol string) string {
	return channelURIScheme + strconv.FormatInt(int64(id), 10) + "#" + protocol
}

// ParseChannelURI is the inverse of ChannelURI.
func ParseChannelURI(uri string) (int32, string, error) {
	rest, ok := strings.CutPrefix(uri, channelURIScheme)
	if !ok {
		return 0, "", errors.Errorf("messaging: invalid channel URI %q", uri)
	}
	idText, protocol, ok := strings.Cut(rest, "#")
	if !ok || protocol == "" {
		return 0, "", errors.Errorf("messaging: channel URI %q has no protocol", uri)
	}
	id, err := strconv.ParseInt(idText, 10, 32)
	if err != nil || id <= 0 {
		return 0, "", errors.Errorf("messaging: invalid channel id in URI %q", uri)
	}
	return int32(id), protocol, nil
}
