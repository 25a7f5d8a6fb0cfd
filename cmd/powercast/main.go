package main

import (
	"powercast/config"
	"powercast/internal/maintenance"
	"powercast/logger"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg := config.Load()

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	// run storage maintenance
	if err := maintenance.Run(cfg, log); err != nil {
		log.Fatal("maintenance failed", zap.Error(err))
	}
}
