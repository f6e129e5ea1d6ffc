package main

import "chatkeeper/cmd"

func main() {
	cmd.Execute()
}
