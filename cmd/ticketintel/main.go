package main

import "ticketintel/cmd/cli"

func main() {
	cli.Execute()
}
