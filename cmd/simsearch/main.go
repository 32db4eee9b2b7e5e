package main

import "github.com/radutopala/simsearch/internal/cli"

func main() {
	cli.Execute()
}
