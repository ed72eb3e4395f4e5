package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "companion",
		Short:        "Pocket companion: a virtual character living on a simulated weekly clock",
		SilenceUsage: true,
	}
	// 敏感信息（LLM_API_KEY / TTS_API_KEY）走环境变量或 .env，不要写进 YAML。
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "server/configs/config.yaml", "config file path")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newResolveCmd(&configPath),
	)
	return rootCmd
}
