package cmd

import (
	"context"

	"github.com/danywayGit/OnChainArbitrage-sub000/utils"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "arbmon",
	Short: "A cross-venue DEX arbitrage monitor",
	Long: `A decision engine that streams reserve changes from on-chain liquidity
pools, detects cross-venue price spreads and evaluates flash-loan round
trips before handing profitable trades to the execution gateway.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is config.json)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initConfig() {
	utils.InitLogger(debug)
}
