package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tyler-smith/go-bip39"

	"github.com/narwhal-go/narwhal/common/identity"
	"github.com/narwhal-go/narwhal/primary/api"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a new authority identity",
	RunE:  runKeygen,
}

func init() {
	keygenCmd.Flags().String("out", "", "path to write the encrypted identity file")
	keygenCmd.Flags().String("passphrase", "", "passphrase protecting the identity file")
	_ = viper.BindPFlags(keygenCmd.Flags())
}

func runKeygen(cmd *cobra.Command, args []string) error {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return fmt.Errorf("keygen: generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return fmt.Errorf("keygen: derive mnemonic: %w", err)
	}

	seed := bip39.NewSeed(mnemonic, "")[:32]
	id, err := identity.FromSeed(seed)
	if err != nil {
		return fmt.Errorf("keygen: derive identity: %w", err)
	}

	out := viper.GetString("out")
	if out == "" {
		return fmt.Errorf("keygen: --out is required")
	}
	if err := id.Save(out, []byte(viper.GetString("passphrase"))); err != nil {
		return fmt.Errorf("keygen: save identity: %w", err)
	}

	authority := api.AuthorityFromPublicKey(id.Public)
	fmt.Printf("mnemonic:  %s\n", mnemonic)
	fmt.Printf("authority: %s\n", authority)
	fmt.Printf("saved to:  %s\n", out)
	return nil
}
