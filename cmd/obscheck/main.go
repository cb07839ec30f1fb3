package main

import (
	"os"

	"github.com/sandeepkv93/device-presence-service/internal/tools/obscheck"
)

func main() {
	if err := obscheck.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
