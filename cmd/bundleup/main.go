package main

import (
	"os"

	cmd "github.com/bundleup/bundleup/internal"
	"github.com/bundleup/bundleup/internal/logger"
)

func main() {
	if err := cmd.Execute(); err != nil {
		logger.LogError(err.Error())
		os.Exit(1)
	}
}
