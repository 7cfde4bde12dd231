package main

import "github.com/alt1f923/flightless/cmd"

func main() {
	cmd.Execute()
}
