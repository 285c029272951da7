package main

import (
	"fmt"
	"log"
	"os"

	"github.com/trezcool/masomo-live/core"
	logsvc "github.com/trezcool/masomo-live/services/logger"
)

func main() {
	conf := core.NewConfig()

	logger := logsvc.NewRollbarLogger(
		log.New(os.Stderr, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	defer logger.Close()

	cmd := newRootCommand(&commandLine{conf: conf, logger: logger})
	if err := cmd.Execute(); err != nil {
		logger.Error(fmt.Sprintf("error: %v", err), err)
		logger.Close()
		os.Exit(1)
	}
}
