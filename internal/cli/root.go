// Package cli wires the devcrypt command surface: enc and dec
// subcommands over internal/chunkcrypt, plus an optional config file
// providing flag defaults.
package cli

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var log = logrus.New()

var rootCmd = &cobra.Command{
	Use:   "devcrypt",
	Short: "Chunked, resumable AES-256-CBC encryption for block devices",
	Long: `devcrypt encrypts or decrypts a fixed-size block device in place,
one chunk at a time, recording enough state in a workdir to resume
cleanly after a crash or interruption.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if verbose {
			log.SetLevel(logrus.DebugLevel)
		}
	},
}

var verbose bool

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(encCmd, decCmd)
	cobra.OnInitialize(loadConfig)
}

// loadConfig searches for an optional devcrypt.yaml providing flag
// defaults. It deliberately does not call viper.AutomaticEnv: spec.md
// §6 only recognizes flags and an optional config file, never
// environment variables.
func loadConfig() {
	viper.SetConfigName("devcrypt")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.devcrypt")
	viper.AddConfigPath("/etc/devcrypt")

	viper.SetDefault("chunk_size", 4096)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.WithError(err).Warn("failed to read config file, continuing with flag defaults")
		}
	}
}

// Execute runs the root command, exiting with status 1 on any error
// per spec.md §6 — devcrypt never distinguishes error kinds by exit
// code, only in the logged message.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "devcrypt: %v\n", err)
		os.Exit(1)
	}
}
