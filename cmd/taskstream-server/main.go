package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/mikeandike523/taskstream"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the server config file")
	flag.Parse()

	cfg, err := taskstream.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := cfg.Logger()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := os.MkdirAll(cfg.Bucket.Path, 0o755); err != nil {
		logger.Fatal("failed to create bucket directory", zap.Error(err))
	}

	registry := taskstream.NewRegistry()
	registry.Use(loggingMiddleware(logger))

	store := taskstream.NewObjectStore(cfg.Bucket.Path, logger)
	store.MaxSize = cfg.Bucket.MaxSize
	store.Register(registry)

	registry.RegisterLong("tasks/progress-test", progressTest)

	server := taskstream.NewServer(registry, taskstream.WithServerLogger(logger))
	logger.Info("listening",
		zap.String("address", cfg.Server.Address),
		zap.Strings("short_tasks", registry.ShortNames()),
		zap.Strings("long_tasks", registry.LongNames()))
	if err := http.ListenAndServe(cfg.Server.Address, server); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

// loggingMiddleware logs every short task invocation with its outcome.
func loggingMiddleware(logger *zap.Logger) taskstream.Middleware {
	return func(next taskstream.Handler) taskstream.Handler {
		return func(ctx context.Context, req *taskstream.TaskRequest) (any, error) {
			start := time.Now()
			result, err := next(ctx, req)
			if err != nil {
				logger.Warn("task failed",
					zap.String("task", req.Name),
					zap.Duration("elapsed", time.Since(start)),
					zap.Error(err))
			} else {
				logger.Info("task completed",
					zap.String("task", req.Name),
					zap.Duration("elapsed", time.Since(start)))
			}
			return result, err
		}
	}
}

// progressTest emits progress 1..total one step per second, with a
// warning at the halfway mark.
func progressTest(ctx context.Context, tc *taskstream.TaskContext, args jsontext.Value) (any, error) {
	var params struct {
		Total int `json:"total"`
	}
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return nil, &taskstream.FatalTaskError{Message: "Validation error", Status: 400}
		}
	}
	total := params.Total
	if total <= 0 {
		total = 5
	}

	for i := 1; i <= total; i++ {
		tc.EmitProgress(i, total)
		if i == total/2 {
			tc.EmitWarning("You're halfway there!", nil)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return map[string]string{"message": "Progress test complete"}, nil
}
