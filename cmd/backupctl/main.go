// Command backupctl encodes, decodes and inspects calculator backup links and files.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
