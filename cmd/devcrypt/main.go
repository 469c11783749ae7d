package main

import "github.com/halvorsen-labs/devcrypt/internal/cli"

func main() {
	cli.Execute()
}
