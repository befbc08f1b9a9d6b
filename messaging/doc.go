// Package messaging implements the Extend connection layer: protocols and
// their message factories, channels multiplexed over one transport
// connection, the handshake that negotiates protocol versions, and the
// correlation of requests with responses.
//
// A Connection is opened over any net.Conn:
//
//	conn, err := messaging.Open(ctx, netConn, messaging.Config{
//		Protocols: []*messaging.Protocol{cacheProtocol},
//	})
//	ch, err := conn.OpenChannel(ctx, "CacheServiceProtocol", "CacheService", nil, nil)
//	resp, err := ch.Request(ctx, req)
//
// Failed requests return a *RequestError. IsTransient tells a transport
// failure, worth retrying on a new connection, from a *RemoteError
// reported by the peer.
package messaging
