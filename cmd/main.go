package main

import (
	"github.com/munin-relay/cmd/relay"
)

func main() {
	relay.Execute()
}
