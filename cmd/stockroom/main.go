// Command stockroom is the local-first inventory CLI.
package main

import (
	"os"

	"github.com/mesh-intelligence/stockroom/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
