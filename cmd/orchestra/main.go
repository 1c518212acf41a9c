package main

import "github.com/nimburion/orchestra/pkg/cli"

func main() {
	cli.Execute(cli.NewRootCommand(cli.Options{Name: "orchestra"}))
}
