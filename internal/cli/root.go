// Package cli implements the pivman command tree.
package cli

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-ctap/pivman/pkg/access"
	"github.com/go-ctap/pivman/pkg/agent"
	"github.com/go-ctap/pivman/pkg/options"
	"github.com/go-ctap/pivman/pkg/piv"
	"github.com/go-ctap/pivman/pkg/pivman"
)

var logger *slog.Logger

var rootCmd = &cobra.Command{
	Use:   "pivman",
	Short: "Manage PIV token credentials",
	Long: `pivman manages the credential set of a PIV token: the PIN, the PUK and
the management key, including PIN-protected and PIN-derived management
keys. Token access goes through the pivman agent.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		configErr := readConfig()

		level := slog.LevelWarn
		if viper.GetBool("verbose") {
			level = slog.LevelDebug
		}
		opts := &slog.HandlerOptions{Level: level}
		if viper.GetString("log-format") == "json" {
			logger = slog.New(slog.NewJSONHandler(os.Stderr, opts))
		} else {
			logger = slog.New(slog.NewTextHandler(os.Stderr, opts))
		}
		slog.SetDefault(logger)

		if configErr != nil {
			logger.Warn("config file ignored", slog.Any("error", configErr))
		}
	},
}

// readConfig merges the optional config file from the per-user config
// directory. A missing file is not an error.
func readConfig() error {
	if dir, err := os.UserConfigDir(); err == nil {
		viper.AddConfigPath(filepath.Join(dir, "pivman"))
	}
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return nil
	}
	return err
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("socket", "", "agent socket path (default is the per-user runtime directory)")
	pf.StringP("pin", "P", "", "PIN to use instead of prompting")
	pf.StringP("management-key", "m", "", "management key in hex to use instead of prompting")
	pf.BoolP("force", "f", false, "do not prompt for confirmation or credentials")
	pf.BoolP("verbose", "v", false, "enable debug logging")
	pf.String("log-format", "text", "log format: text or json")

	viper.SetEnvPrefix("PIVMAN")
	viper.AutomaticEnv()
	for _, name := range []string{"socket", "pin", "management-key", "force", "verbose", "log-format"} {
		_ = viper.BindPFlag(name, pf.Lookup(name))
	}
	_ = viper.BindEnv("management-key", "PIVMAN_MANAGEMENT_KEY")

	rootCmd.AddCommand(readersCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(verifyPINCmd)
	rootCmd.AddCommand(changePINCmd)
	rootCmd.AddCommand(changePUKCmd)
	rootCmd.AddCommand(unblockPINCmd)
	rootCmd.AddCommand(setRetriesCmd)
	rootCmd.AddCommand(changeManagementKeyCmd)
	rootCmd.AddCommand(exportObjectCmd)
	rootCmd.AddCommand(importObjectCmd)
	rootCmd.AddCommand(chuidCmd)
	rootCmd.AddCommand(cccCmd)
	rootCmd.AddCommand(resetCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(versionCmd)
}

// openSession dials the agent and checks the protocol version. The caller
// closes the returned client.
func openSession() (*agent.Client, error) {
	client, err := agent.Dial(
		options.WithSocketPath(viper.GetString("socket")),
		options.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	backend, err := client.Hello()
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	logger.Debug("connected to agent", slog.String("backend", backend))

	return client, nil
}

// newResolver builds the access resolver for an open session, with prompts
// on the terminal unless credentials came in through flags.
func newResolver(sess piv.Session) (*access.Resolver, error) {
	return access.New(sess, &terminalPrompter{}, options.WithLogger(logger))
}

// authOpts extends per-call resolver options with the global flags. With
// --force set every prompt is suppressed, so missing credentials surface
// as errors instead of questions.
func authOpts(opts ...access.AuthOption) []access.AuthOption {
	if viper.GetBool("force") {
		opts = append(opts, access.NoPrompt())
	}
	return opts
}

// credentials collects PIN and management key supplied up front.
func credentials() (access.Credentials, error) {
	creds := access.Credentials{
		PIN: viper.GetString("pin"),
	}

	if hexKey := viper.GetString("management-key"); hexKey != "" {
		key, err := pivman.ParseManagementKey(hexKey)
		if err != nil {
			return access.Credentials{}, err
		}
		creds.ManagementKey = key
	}
	return creds, nil
}
