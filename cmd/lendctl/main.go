// Command lendctl is the operator CLI for lendpool: migrations, token
// registry imports, outbox maintenance and staff account creation.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
