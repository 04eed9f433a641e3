package main

import "github.com/ppiankov/flowgate/internal/cli"

func main() {
	cli.Execute()
}
