package main

import "github.com/orbitalweb/ow-agent/cmd"

func main() {
	cmd.Execute()
}
