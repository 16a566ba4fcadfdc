package main

import "github.com/oshokin/ij-latest/cmd/ij-latest/cmd"

func main() {
	cmd.Execute()
}
