package main

import (
	"polswatch/internal/cli"
)

func main() {
	cli.Execute()
}
