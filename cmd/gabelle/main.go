package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gabelle",
	Short: "Gabelle — metered usage tracking and billing aggregation engine",
	Long:  "Gabelle ingests per-tenant usage events, maintains fast counters and durable per-period aggregates, answers advisory quota checks, and derives billing reports with overage charges.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: configs/gabelle.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
