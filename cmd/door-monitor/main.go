package main

import "github.com/oshokin/door-monitor/cmd/door-monitor/cmd"

func main() {
	cmd.Execute()
}
