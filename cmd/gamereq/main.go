// Command gamereq administers a GameRequest data directory: bulk imports,
// admin accounts, notification checks and runtime settings.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

var version = "dev"

func main() {
	cmd, cc := newRootCommand()
	err := cmd.Execute()
	if closeErr := cc.close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
