// Command myfsctl is a minimal harness exercising the MyFS core: a
// cobra command per operation in the external CLI surface (spec §6).
// It contains no business logic of its own.
package main

import (
	"os"

	"github.com/hytong05/NT212-New-File-System/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
