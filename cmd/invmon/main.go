package main

import "github.com/vietddude/invmon/internal/cli"

func main() {
	cli.Execute()
}
