package main

import "teaminvite/cmd/internal/cli"

func main() {
	cli.Execute()
}
