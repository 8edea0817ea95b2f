package main

import "github.com/MeKo-Tech/fournet/cmd/fournet/cmd"

func main() {
	cmd.Execute()
}
