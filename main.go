package main

import "bridgeq/cmd"

func main() {
	cmd.Run()
}
