package main

import "github.com/capsulemarket/capsule/internal/cli"

func main() {
	cli.Execute()
}
