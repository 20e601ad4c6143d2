// Command clarityctl drives a running clarity-api: it starts searches,
// runs batch collections for a list of brands, inspects stored brands and
// follows completed-session events over NATS.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
