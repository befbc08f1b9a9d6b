package messaging

import (
	"sync/atomic"
)

// Stats contains counters of a Connection since it was opened.
type Stats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	BytesSent        uint64 // frame bytes, length prefix included
	BytesReceived    uint64
	Timeouts         uint64 // requests given up on by the caller
	DroppedResponses uint64 // responses that arrived with no pending request
	DecodeErrors     uint64 // frames dropped because they could not be decoded
}

type statsCollector struct {
	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	bytesSent        atomic.Uint64
	bytesReceived    atomic.Uint64
	timeouts         atomic.Uint64
	droppedResponses atomic.Uint64
	decodeErrors     atomic.Uint64
}

func (s *statsCollector) recordSent(n int) {
	s.messagesSent.Add(1)
	s.bytesSent.Add(uint64(n))
}

func (s *statsCollector) recordReceived(n int) {
	s.messagesReceived.Add(1)
	s.bytesReceived.Add(uint64(n))
}

func (s *statsCollector) snapshot() Stats {
	return Stats{
		MessagesSent:     s.messagesSent.Load(),
		MessagesReceived: s.messagesReceived.Load(),
		BytesSent:        s.bytesSent.Load(),
		BytesReceived:    s.bytesReceived.Load(),
		Timeouts:         s.timeouts.Load(),
		DroppedResponses: s.droppedResponses.Load(),
		DecodeErrors:     s.decodeErrors.Load(),
	}
}
