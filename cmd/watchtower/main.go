package main

import "watchtower/pkg/cli"

func main() {
	cli.Execute()
}
