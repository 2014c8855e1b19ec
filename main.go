package main

import "github.com/emrgen/docsearch/cmd"

func main() {
	cmd.Execute()
}
