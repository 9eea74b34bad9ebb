package main

import (
	"futures-move-alerts/internal/cli"
)

func main() {
	cli.Execute()
}
