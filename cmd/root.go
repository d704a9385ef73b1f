// Package cmd wires the runtime: configuration, infrastructure clients and
// the cobra commands that run them.
package cmd

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"caseflow/config"
)

var rootCmd = &cobra.Command{
	Use:   "caseflow",
	Short: "WhatsApp case conversation backend",
	Long: `Caseflow ingests WhatsApp Cloud API webhooks into a durable queue and
answers users through per-case LLM conversations persisted on an
S3-compatible object store.`,
}

var flagDebug bool

func init() {
	time.Local = time.UTC
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false,
		"verbose logging --debug <true/false> | example: --debug=true")
	cobra.OnInitialize(initConfig)
}

func initConfig() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("[CONFIG] %v", err)
	}

	if flagDebug {
		cfg.App.Debug = true
	}
	if cfg.App.Debug {
		logrus.SetLevel(logrus.DebugLevel)
		return
	}
	level, err := logrus.ParseLevel(cfg.App.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
