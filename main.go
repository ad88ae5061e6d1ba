package main

import "github.com/simonyos/Z-NOTE/cmd"

func main() {
	cmd.Execute()
}
