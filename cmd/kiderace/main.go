package main

import "github.com/example/kiderace/cmd"

func main() {
	cmd.Execute()
}
