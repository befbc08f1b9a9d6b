package messaging

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Status tracks a request sent on a Channel until its response arrives,
// it fails or the caller gives up on it.
type Status struct {
	channel *Channel
	request Request
	id      int64
	sent    time.Time

	once sync.Once
	done chan struct{}
	resp Response
	err  error
}

func newStatus(ch *Channel, req Request) *Status {
	return &Status{
		channel: ch,
		request: req,
		id:      req.RequestID(),
		sent:    time.Now(),
		done:    make(chan struct{}),
	}
}

func (s *Status) RequestID() int64 { return s.id }
func (s *Status) Request() Request { return s.request }

// Done is closed once the status is complete.
func (s *Status) Done() <-chan struct{} { return s.done }

func (s *Status) IsDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Response returns the response, or nil while the request is pending or
// if it failed locally. A failure response is returned together with a
// non-nil Err.
func (s *Status) Response() Response {
	if !s.IsDone() {
		return nil
	}
	return s.resp
}

// Err returns the failure of a completed request as a *RequestError.
func (s *Status) Err() error {
	if !s.IsDone() {
		return nil
	}
	return s.err
}

// Wait blocks until the status completes or ctx ends. When ctx ends first
// the request is given up on: it leaves the pending table and fails with a
// *RequestTimeoutError if the deadline passed, or with the context error.
func (s *Status) Wait(ctx context.Context) (Response, error) {
	select {
	case <-s.done:
		return s.resp, s.err
	case <-ctx.Done():
	}

	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		err = &RequestTimeoutError{Timeout: time.Since(s.sent)}
	}
	if s.cancel(err) && s.channel != nil {
		if _, ok := err.(*RequestTimeoutError); ok {
			s.channel.conn.stats.timeouts.Add(1)
		}
	}
	<-s.done
	return s.resp, s.err
}

// WaitForResponse is Wait with a timeout. A timeout of zero or less uses
// the request timeout of the connection.
func (s *Status) WaitForResponse(timeout time.Duration) (Response, error) {
	if timeout <= 0 && s.channel != nil {
		timeout = s.channel.conn.cfg.RequestTimeout
	}
	if timeout <= 0 {
		return s.Wait(context.Background())
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Wait(ctx)
}

// Cancel fails the request with err unless it already completed. A
// response arriving afterwards is dropped.
func (s *Status) Cancel(err error) {
	if err == nil {
		err = context.Canceled
	}
	s.cancel(err)
}

func (s *Status) cancel(err error) bool {
	if s.channel != nil {
		s.channel.removePending(s.id)
	}
	return s.complete(nil, err)
}

// complete sets the outcome once and reports whether this call did.
func (s *Status) complete(resp Response, err error) bool {
	completed := false
	s.once.Do(func() {
		if err == nil && resp != nil && resp.IsFailure() {
			err = remoteError(resp.Result())
		}
		if err != nil {
			err = s.wrap(err)
		}
		s.resp = resp
		s.err = err
		completed = true
		close(s.done)
	})
	return completed
}

func (s *Status) wrap(err error) error {
	var reqErr *RequestError
	if errors.As(err, &reqErr) && reqErr.RequestID == s.id {
		return err
	}
	var channelID int32
	if s.channel != nil {
		channelID = s.channel.id
	}
	return &RequestError{ChannelID: channelID, RequestID: s.id, Err: err}
}
