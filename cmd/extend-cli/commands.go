package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/pior/extend/messaging"
	"github.com/pior/extend/partition"
)

func pingCmd(opts *options) *cli.Command {
	count := 3
	interval := time.Second
	return &cli.Command{
		Name:  "ping",
		Usage: "Connect to a proxy and ping it",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Usage: "Number of pings", Value: count, Destination: &count},
			&cli.DurationFlag{Name: "interval", Usage: "Delay between pings", Value: interval, Destination: &interval},
		},
		Action: func(ctx *cli.Context) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			defer client.Close()

			conn, err := client.Connect(ctx.Context)
			if err != nil {
				return err
			}
			defer conn.Close(true, nil, time.Second)

			out := ctx.App.Writer
			fmt.Fprintf(out, "connected to %s (peer %s)\n", conn.RemoteAddr(), conn.PeerID())

			var failed int
			for i := range count {
				if i > 0 {
					select {
					case <-ctx.Context.Done():
						return ctx.Context.Err()
					case <-time.After(interval):
					}
				}
				start := time.Now()
				err := conn.Ping(ctx.Context)
				switch {
				case errors.Is(err, messaging.ErrPingUnsupported):
					return err
				case err != nil:
					failed++
					fmt.Fprintf(out, "ping %d: %v\n", i+1, err)
				default:
					fmt.Fprintf(out, "ping %d: pong in %s\n", i+1, time.Since(start).Round(time.Microsecond))
				}
			}
			if failed > 0 {
				return errors.Errorf("%d of %d pings failed", failed, count)
			}
			return nil
		},
	}
}

func infoCmd(opts *options) *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Connect to a proxy and show the handshake outcome",
		Action: func(ctx *cli.Context) error {
			client, err := opts.client()
			if err != nil {
				return err
			}
			defer client.Close()

			conn, err := client.Connect(ctx.Context)
			if err != nil {
				return err
			}
			defer conn.Close(true, nil, time.Second)

			out := ctx.App.Writer
			fmt.Fprintf(out, "remote:      %s\n", conn.RemoteAddr())
			fmt.Fprintf(out, "local:       %s\n", conn.LocalAddr())
			fmt.Fprintf(out, "connection:  %s\n", conn.ID())
			fmt.Fprintf(out, "peer:        %s\n", conn.PeerID())
			if f, ok := conn.MessageFactory(messaging.MessagingProtocolName); ok {
				fmt.Fprintf(out, "protocol:    %s v%d\n", f.Protocol().Name(), f.Version())
			}

			stats := client.Stats()
			fmt.Fprintf(out, "attempts:    %d\n", stats.Attempts)
			fmt.Fprintf(out, "redirects:   %d\n", stats.Redirects)
			return nil
		},
	}
}

func partitionCmd() *cli.Command {
	count := 257
	return &cli.Command{
		Name:      "partition",
		Usage:     "Show the partition of each key",
		ArgsUsage: "KEY...",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "partitions", Aliases: []string{"p"}, Usage: "Partition count", Value: count, Destination: &count},
		},
		Action: func(ctx *cli.Context) error {
			if ctx.NArg() == 0 {
				return errors.New("no key given")
			}
			if count <= 0 {
				return errors.Errorf("invalid partition count %d", count)
			}
			set := partition.New(count)
			for _, key := range ctx.Args().Slice() {
				p := partition.Of([]byte(key), count)
				set.Add(p)
				fmt.Fprintf(ctx.App.Writer, "%s\t%d\n", key, p)
			}
			fmt.Fprintf(ctx.App.Writer, "%s\n", set)
			return nil
		},
	}
}
