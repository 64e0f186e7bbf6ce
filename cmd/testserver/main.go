package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dshills/decisionflow/internal/testutil/testserver"
	"github.com/dshills/decisionflow/pkg/log"
	"github.com/dshills/decisionflow/pkg/subject"
)

// main runs the emulated issue tracker as a standalone process so the rest
// subject provider can be tried without a real tracker. Issues are the JSON
// records in DECISIONFLOW_TESTSERVER_SUBJECTS_DIR, the same format the file
// provider and 'decisionflow subject import' use.
func main() {
	logger := log.Init(zapcore.InfoLevel)
	defer log.Sync()

	config := testserver.LoadConfig()
	if err := config.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	store, err := subject.NewFileProvider(config.SubjectsDir)
	if err != nil {
		logger.Fatal("failed to open subjects directory", zap.Error(err))
	}

	server, err := testserver.NewServer(config, store, logger)
	if err != nil {
		logger.Fatal("failed to create server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.ListenAndServe(ctx); err != nil {
		logger.Fatal("server error", zap.Error(err))
	}
}
