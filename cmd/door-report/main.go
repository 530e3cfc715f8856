package main

import "github.com/oshokin/door-monitor/cmd/door-report/cmd"

func main() {
	cmd.Execute()
}
