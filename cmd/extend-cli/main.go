// Command extend-cli connects to Extend proxies to check they are
// reachable and to show what they negotiate.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := newApp().RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "extend-cli:", err)
		os.Exit(1)
	}
}
