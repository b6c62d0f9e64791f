package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/danywayGit/OnChainArbitrage-sub000/cmd/monitor"
	"github.com/danywayGit/OnChainArbitrage-sub000/config"
	"github.com/danywayGit/OnChainArbitrage-sub000/utils"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the arbitrage monitor",
	Run: func(cmd *cobra.Command, args []string) {
		log := utils.GetLogger()

		if err := config.LoadEnv(); err != nil {
			log.Debug("No .env file loaded", zap.Error(err))
		}

		cfg, err := config.LoadConfig(cfgFile)
		if err != nil {
			log.Fatal("Failed to load config", zap.Error(err))
		}
		cfg.ApplyEnvOverrides()

		mon, err := monitor.New(cfg, log)
		if err != nil {
			log.Fatal("Failed to create monitor", zap.Error(err))
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		if err := mon.Start(ctx); err != nil {
			log.Fatal("Failed to start monitor", zap.Error(err))
		}

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("Shutting down gracefully...")
		cancel()
		mon.Stop()
	},
}

func init() {
	rootCmd.AddCommand(startCmd)
}
