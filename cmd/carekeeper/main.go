package main

import (
	"os"

	"github.com/dmitrijs2005/carekeeper/internal/client/cli"
)

func main() {
	os.Exit(cli.Execute())
}
