package main

import (
	"os"

	"queuectl/cli"
)

func main() {
	os.Exit(cli.Execute())
}
