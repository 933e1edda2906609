package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meterpay/meterpay/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and exit",
	RunE:  runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Println("Configuration valid")
	fmt.Printf("  Listen:    %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Printf("  Database:  %s\n", cfg.Database.Driver)
	fmt.Printf("  Payouts:   %s\n", cfg.Payout.Mode)
	fmt.Printf("  Reporter:  %v\n", cfg.Reporter.Enabled)
	return nil
}
