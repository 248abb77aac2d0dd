// Command vaultstream manages an encrypted chunked file container: import
// files into it, list them, stream them back out.
package main

import (
	"os"

	"github.com/richoarbianto/vaultstream/cmd/vaultstream/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
