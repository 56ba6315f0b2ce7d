package main

import "github.com/goosewin/ontogen/cmd"

func main() {
	cmd.Execute()
}
