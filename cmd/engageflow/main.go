package main

import "github.com/ramiqadoumi/engageflow/internal/cli"

func main() {
	cli.Execute()
}
