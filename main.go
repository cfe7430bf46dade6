package main

import "github.com/kozaktomas/facemotion/cmd"

func main() {
	cmd.Execute()
}
