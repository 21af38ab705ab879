package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/spigell/job-aggregator/internal/secrets"
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage API keys stored in the OS keychain",
}

var secretSetCmd = &cobra.Command{
	Use:       "set <gemini|anthropic>",
	Short:     "Store an API key for an arbitration provider",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{ProviderGemini, ProviderAnthropic},
	RunE: func(_ *cobra.Command, args []string) error {
		provider := strings.ToLower(strings.TrimSpace(args[0]))
		if provider != ProviderGemini && provider != ProviderAnthropic {
			return fmt.Errorf("unsupported provider: %s", args[0])
		}

		account := viper.GetString("arbitration." + provider + ".keyring-account")

		input := promptui.Prompt{
			Label: fmt.Sprintf("%s API key", provider),
			Mask:  '*',
			Validate: func(s string) error {
				if strings.TrimSpace(s) == "" {
					return errors.New("key is empty")
				}
				return nil
			},
		}

		key, err := input.Run()
		if err != nil {
			return err
		}

		if err := secrets.Store(account, key); err != nil {
			return fmt.Errorf("storing %s key: %w", provider, err)
		}

		fmt.Printf("%s key saved to keyring account %q\n", provider, account)
		return nil
	},
}

func init() {
	secretCmd.AddCommand(secretSetCmd)
	rootCmd.AddCommand(secretCmd)
}
