package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "meterpay",
	Short: "Metered payment streaming engine with self-scheduling settlements",
	Long: `Meterpay runs metered payment streams: payers deposit funds, authorized
reporters submit signed usage readings, and the engine settles accrued
charges on a self-perpetuating schedule.

Quick start:
  meterpay keygen    # Generate a reporter signing key
  meterpay serve     # Start the engine and admin API

Management:
  meterpay validate  # Validate configuration`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "meterpay.yaml", "config file path")
}
