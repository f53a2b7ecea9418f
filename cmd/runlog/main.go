package main

import "github.com/runlog-project/runlog/internal/cli"

func main() {
	cli.Execute()
}
