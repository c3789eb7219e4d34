package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/svdag"
	"github.com/hupe1980/svdag/blobstore"
)

var (
	storeURI   string
	commitURI  string
	sceneName  string
	logLevel   string
	logFormat  string
	budgetSize int64
)

var rootCmd = &cobra.Command{
	Use:           "svdag",
	Short:         "Build, inspect and serve sparse voxel DAGs",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&storeURI, "store", ".", "Snapshot store: a path, file://, mem://, s3://bucket/prefix or minio://host/bucket/prefix")
	pf.StringVar(&commitURI, "commits", "", "Commit store: ddb://table or mem:// (default none)")
	pf.StringVar(&sceneName, "scene", "default", "Scene name used for commits")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	pf.Int64Var(&budgetSize, "budget", svdag.DefaultBudget, "Residency budget in bytes")
}

func newLogger() (*svdag.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return nil, fmt.Errorf("invalid --log-level: %w", err)
	}
	switch logFormat {
	case "text":
		return svdag.NewTextLogger(level), nil
	case "json":
		return svdag.NewJSONLogger(level), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q", logFormat)
	}
}

// openScene opens a scene with the options shared by every command:
// logging, budget and the configured stores. It also returns the blob
// store for commands that read snapshots directly.
func openScene(cmd *cobra.Command, extra ...svdag.Option) (*svdag.Scene, blobstore.BlobStore, error) {
	logger, err := newLogger()
	if err != nil {
		return nil, nil, err
	}
	ctx := cmd.Context()

	store, err := openStore(ctx, storeURI)
	if err != nil {
		return nil, nil, err
	}
	opts := []svdag.Option{
		svdag.WithLogger(logger),
		svdag.WithBudget(budgetSize),
		svdag.WithBlobStore(store),
		svdag.WithSceneName(sceneName),
	}
	if commitURI != "" {
		commits, err := openCommitStore(ctx, commitURI, storeURI)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, svdag.WithCommitStore(commits))
	}

	scene, err := svdag.Open(append(opts, extra...)...)
	if err != nil {
		return nil, nil, err
	}
	return scene, store, nil
}

// Execute runs the root command until it returns or the process is
// interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
