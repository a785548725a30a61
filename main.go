package main

import "github.com/classwatch/classwatch/cmd"

func main() {
	cmd.Execute()
}
