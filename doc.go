// Package extend is a client for the Coherence Extend protocol. It opens
// Connections to Extend proxies, following redirects and failing over
// between proxy addresses, and keeps a pool of them healthy.
//
// The wire protocol itself lives in the messaging package; extend deals
// with where and how often to connect.
//
//	client, err := extend.NewClient(extend.NewStaticAddresses("proxy1:9099", "proxy2:9099"), extend.Config{
//		Messaging: messaging.Config{
//			ClusterName: "prod",
//			Protocols:   []*messaging.Protocol{cacheProtocol},
//		},
//		HealthCheckInterval: 30 * time.Second,
//	})
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	err = client.Do(ctx, func(conn *messaging.Connection) error {
//		ch, err := conn.OpenChannel(ctx, cacheProtocol.Name(), "dist-example", nil, nil)
//		...
//	})
package extend
