// Command cassandra runs the Cassandra music curator: a web server, a
// terminal chat and the tools to manage both.
package main

import (
	"fmt"
	"os"

	"cassandra/internal/cli"
)

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
