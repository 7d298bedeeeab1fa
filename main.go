package main

import "github.com/kozaktomas/face-lapse/cmd"

func main() {
	cmd.Execute()
}
