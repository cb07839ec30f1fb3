package main

import (
	"os"

	"github.com/sandeepkv93/device-presence-service/internal/tools/auditcheck"
)

func main() {
	if err := auditcheck.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
