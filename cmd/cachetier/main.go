// Package main is the entry point for the cachetier CLI.
package main

import (
	"context"
	"os"

	"charm.land/fang/v2"
	"github.com/spf13/cobra"
)

const (
	defaultConfigFile = "cachetier.yaml"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "cachetier",
	Short: "Tiered cache manager with pluggable backends",
	Long: `cachetier manages named caches over local and remote backends (sharded
in-process maps, Redis, Ristretto, Olric), layering eviction strategies
and resilience (retry, circuit breaker, local fallback) over each tier.`,
}

func init() {
	// Global flags available to all subcommands
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file path (default: ./"+defaultConfigFile+" or ~/.config/cachetier/"+defaultConfigFile+")")
}

func main() {
	if err := fang.Execute(context.Background(), rootCmd); err != nil {
		os.Exit(1)
	}
}
