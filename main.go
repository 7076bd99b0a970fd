package main

import "meuwsic/cmd"

func main() {
	cmd.Execute()
}
