package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nodewatch/internal/client"
	"nodewatch/internal/config"
	"nodewatch/internal/constants"
	"nodewatch/internal/session"
	"nodewatch/internal/utils"
)

var (
	envFile      string
	cfgFile      string
	serverURL    string
	walletKey    string
	nodeJWT      string
	outputFormat string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:     "nodewatch",
	Short:   "Watch and operate a wallet's node fleet over the monitoring service",
	Example: constants.MsgExample,
	Version: constants.Version,

	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		files := []string{envFile}
		if cfgFile != "" {
			files = append(files, cfgFile)
		} else if path := utils.GetEnv("NODEWATCH_CONFIG", ""); path != "" {
			files = append(files, path)
		}

		var err error
		cfg, err = config.Load(files...)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if serverURL != "" {
			cfg.WSURL = serverURL
			cfg.APIURL = utils.ToHTTPURL(strings.TrimSuffix(serverURL, "/ws"))
		}
		if walletKey != "" {
			cfg.WalletKey = walletKey
		}
		if nodeJWT != "" {
			cfg.NodeJWT = nodeJWT
		}
		switch strings.ToLower(outputFormat) {
		case client.FormatTable, client.FormatJSON, client.FormatYAML:
		default:
			return fmt.Errorf("unsupported output format %q", outputFormat)
		}
		return nil
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("  %s%snodewatch%s %sv{{.Version}}%s\n", constants.ColorBold, constants.ColorCyan, constants.ColorReset, constants.ColorBold, constants.ColorReset))

	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "dotenv file to load")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "yaml config file (default $NODEWATCH_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "monitoring service websocket url")
	rootCmd.PersistentFlags().StringVar(&walletKey, "key", "", "hex private key of the wallet")
	rootCmd.PersistentFlags().StringVar(&nodeJWT, "jwt", "", "credential for remote node authorization")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", client.FormatTable, "output format: table, json, yaml")

	rootCmd.AddCommand(watchCmd, nodesCmd, execCmd)
}

func newApp() (*client.App, error) {
	return client.NewApp(cfg, session.NewStore())
}

func tableOutput() bool {
	return strings.ToLower(outputFormat) == client.FormatTable
}

func render(v any) error {
	out, err := client.Render(outputFormat, v)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}
