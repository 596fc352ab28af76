// Command wirectl loads a resource manifest into an environment and runs
// resolution attempts and provider lookups against it.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
