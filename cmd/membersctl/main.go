package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/pwaburton/members/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	jsonOutput bool
)

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "membersctl",
		Short:         "Command line client for the members API",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newLoginCommand(),
		newLogoutCommand(),
		newStatusCommand(),
		newWatchCommand(),
		newPasswordCommand(),
		newMembersCommand(),
		newCollectorsCommand(),
		newPaymentsCommand(),
		newFinanceCommand(),
		newTicketsCommand(),
		newNoticesCommand(),
		newRegisterCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		var denied *accessError
		if errors.As(err, &denied) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	viper.SetDefault("log.level", "warn")
	viper.SetDefault("log.format", "console")
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print results as JSON")
	cmd.PersistentFlags().String("base-url", defaults.GetString("client.base_url"), "Members API base URL")
	cmd.PersistentFlags().String("session-file", defaults.GetString("client.session_file"), "Where the session is stored")
	cmd.PersistentFlags().Duration("timeout", defaults.GetDuration("client.timeout"), "HTTP request timeout")
	cmd.PersistentFlags().Duration("provider-timeout", defaults.GetDuration("session.provider_timeout"), "Upper bound on each auth provider call")
	cmd.PersistentFlags().String("log-level", viper.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", viper.GetString("log.format"), "Log format (json, console)")

	bindFlag(cmd, "client.base_url", "base-url")
	bindFlag(cmd, "client.session_file", "session-file")
	bindFlag(cmd, "client.timeout", "timeout")
	bindFlag(cmd, "session.provider_timeout", "provider-timeout")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "log.format", "log-format")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}
