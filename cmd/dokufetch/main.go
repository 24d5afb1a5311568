// Package main is the entry point for the dokufetch CLI.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is set at build time via ldflags.
var version = "dev"

// rootCmd is the base command for the dokufetch CLI.
var rootCmd = &cobra.Command{
	Use:   "dokufetch",
	Short: "Download scanned articles from Dokumentlager and collate them into DjVu documents",
	Long: `dokufetch retrieves the scanned page images of archival articles from a
Dokumentlager document-storage service and assembles each article's pages
into one multi-page DjVu file.

Supply a list file with one article uuid per line. Credentials come from
the config file or the DOKUFETCH_SERVICE_USERNAME / DOKUFETCH_SERVICE_PASSWORD
environment variables.`,
	SilenceUsage: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default: ./dokufetch.yaml or ~/.config/dokufetch/config.yaml)")

	rootCmd.AddCommand(newFetchCommand())
	rootCmd.AddCommand(newVersionCommand())
}

func initConfig() {
	cfgFile, _ := rootCmd.PersistentFlags().GetString("config")
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("dokufetch")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")

		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "dokufetch"))
		}
	}

	viper.SetEnvPrefix("DOKUFETCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
