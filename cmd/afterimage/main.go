package main

import (
	"os"

	"github.com/rcliao/afterimage/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
