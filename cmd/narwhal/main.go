// Command narwhal runs a consensus primary, including its certificate
// waiter, or drives one from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/narwhal-go/narwhal/common/logging"
)

var (
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   "narwhal",
		Short: "A DAG-based BFT consensus primary",
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.narwhal.yaml)")
	rootCmd.PersistentFlags().String("log.level", "info", "logging level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log.format", "logfmt", "logging format (logfmt, json)")
	_ = viper.BindPFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(statusCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName(".narwhal")
		viper.SetConfigType("yaml")
		viper.AddConfigPath("$HOME")
	}

	viper.SetEnvPrefix("narwhal")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	level, err := logging.LogLevel(viper.GetString("log.level"))
	if err != nil {
		level = logging.LevelInfo
	}
	format, err := logging.LogFormat(viper.GetString("log.format"))
	if err != nil {
		format = logging.FmtLogfmt
	}
	_ = logging.Initialize(os.Stdout, level, format)
}
