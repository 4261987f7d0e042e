package main

import (
	_ "time/tzdata"

	"meramandi/internal/cli"
)

func main() {
	cli.Execute()
}
