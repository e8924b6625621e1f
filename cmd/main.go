package main

import (
	"github.com/dyike/AurumGo/internal/cli"
)

func main() {
	cli.Run()
}
