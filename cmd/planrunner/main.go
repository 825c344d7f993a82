// Command planrunner runs plans of dependent tasks.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/Iron-Ham/planrunner/internal/cmd"
)

// silent is implemented by errors whose details were already printed.
type silent interface {
	Silent() bool
}

func main() {
	if err := cmd.Execute(); err != nil {
		var s silent
		if !errors.As(err, &s) || !s.Silent() {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
