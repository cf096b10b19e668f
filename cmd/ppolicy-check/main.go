package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/mikey/mail-policy/internal/adapters/cache"
	"github.com/mikey/mail-policy/internal/core"
	"github.com/mikey/mail-policy/internal/di"
	"github.com/mikey/mail-policy/internal/factory"
	"go.uber.org/zap"
)

func main() {
	flags := di.ParseFlags()

	container, err := di.BuildCLIContainer(flags)
	if err != nil {
		fmt.Printf("Failed to build dependency container: %v\n", err)
		os.Exit(1)
	}

	if err := container.Invoke(run); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func run(
	flags *di.CLIFlags,
	logger *zap.Logger,
	frontends *factory.FrontendFactory,
	checks []core.Checkable,
	fingerprintCache *cache.MemoryCache,
	store factory.PersistentStore,
) error {
	defer logger.Sync()
	defer store.Stop()
	if fingerprintCache != nil {
		defer fingerprintCache.Stop()
	}
	defer func() {
		for _, c := range checks {
			if closer, ok := c.(io.Closer); ok {
				_ = closer.Close()
			}
		}
	}()

	// Read request from file or stdin
	var in io.Reader = os.Stdin
	if flags.InputFile != "" {
		file, err := os.Open(flags.InputFile)
		if err != nil {
			return fmt.Errorf("failed to open input file: %w", err)
		}
		defer file.Close()
		in = file
		logger.Info("Reading request from file", zap.String("file", flags.InputFile))
	} else {
		logger.Info("Reading request from stdin")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cli := frontends.CreateCLI(os.Stdout, flags.Verbose)
	_, err := cli.Run(ctx, in, flags.Check)
	return err
}
