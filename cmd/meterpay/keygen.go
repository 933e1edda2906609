package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/meterpay/meterpay/domain/attest"
)

var keygenOut string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a reporter signing key",
	Long: `Generate an ed25519 signing key for a usage reporter.

The private seed is written to the output file (hex encoded) and the public
identity is printed. Use the identity as the stream's authorized reporter.`,
	RunE: runKeygen,
}

func init() {
	keygenCmd.Flags().StringVarP(&keygenOut, "out", "o", "reporter.key", "output file for the private seed")
	rootCmd.AddCommand(keygenCmd)
}

func runKeygen(cmd *cobra.Command, args []string) error {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}

	seed := hex.EncodeToString(priv.Seed())
	if err := os.WriteFile(keygenOut, []byte(seed+"\n"), 0o600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}

	fmt.Printf("Key written to %s\n", keygenOut)
	fmt.Printf("Reporter identity: %s\n", attest.Identity(pub))
	return nil
}
