package main

import (
	"os"

	"tradelab/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
