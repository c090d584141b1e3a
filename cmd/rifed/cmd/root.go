package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/ffmpeg-rife/pkg/config"
)

// set with -ldflags "-X github.com/psantana5/ffmpeg-rife/cmd/rifed/cmd.version=..."
var version = "dev"

var (
	cfgFile string
	envFile string
	v       = viper.New()
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:           "rifed",
	Short:         "Frame interpolation job server",
	Long:          `rifed accepts videos or image pairs over HTTP, runs RIFE frame interpolation on them and re-encodes the result with ffmpeg.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.rifed/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file of RIFED_* variables loaded before the environment is read")
}

// loadConfig resolves flags, file, env file and RIFED_* environment into a Config
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	return config.Load(v, cfgFile)
}
