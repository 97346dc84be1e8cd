package main

import (
	"context"
	"os"

	"github.com/liamcoop/timecontrol/internal/logger"
)

func main() {
	err := newRootCmd().Execute()
	_ = logger.Shutdown(context.Background())
	if err != nil {
		os.Exit(1)
	}
}
