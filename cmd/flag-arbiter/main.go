package main

import "github.com/oshokin/flag-arbiter/cmd/flag-arbiter/cmd"

func main() {
	cmd.Execute()
}
