package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psantana5/ffmpeg-rife/pkg/auth"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Generate an API key",
	Long: `Generates a random API key and its bcrypt hash. Give the key to clients
(rifectl --api-key or RIFECTL_API_KEY) and put the hash in api_key_hash so the
plain key never has to be stored on the server.`,
	RunE: runAPIKey,
}

func init() {
	rootCmd.AddCommand(apikeyCmd)
}

func runAPIKey(cmd *cobra.Command, args []string) error {
	key, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}
	hash, err := auth.HashKey(key)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "api key:      %s\n", key)
	fmt.Fprintf(out, "api_key_hash: %s\n", hash)
	return nil
}
