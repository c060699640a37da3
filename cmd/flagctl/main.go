package main

import "github.com/oshokin/flag-arbiter/cmd/flagctl/cmd"

func main() {
	cmd.Execute()
}
