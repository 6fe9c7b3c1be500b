package main

import "github.com/pyama86/queueline/cmd"

func main() {
	cmd.Execute()
}
