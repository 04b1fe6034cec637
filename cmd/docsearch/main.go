package main

import "github.com/aihub/docsearch/app/cli"

func main() {
	cli.Execute()
}
