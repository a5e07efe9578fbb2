package main

import "github.com/sushazhi/fnos-logmanager/cmd/logmanager/cmd"

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cmd.Version = version
	cmd.Execute()
}
