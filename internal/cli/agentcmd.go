package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-ctap/pivman/pkg/agent"
	"github.com/go-ctap/pivman/pkg/options"
	"github.com/go-ctap/pivman/pkg/pivtest"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run a development agent backed by an in-memory token",
	Long: `Run the pivman agent with a software token. Other pivman commands (and
anything else speaking the agent protocol) connect to it through the
socket. With --state the token survives restarts.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		statePath, _ := cmd.Flags().GetString("state")
		touchDelay, _ := cmd.Flags().GetDuration("touch-delay")

		tok, err := loadToken(statePath)
		if err != nil {
			return err
		}
		if touchDelay > 0 {
			tok.Touch = func(ctx context.Context) error {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(touchDelay):
					return nil
				}
			}
		}

		ln, err := agent.Listen(viper.GetString("socket"))
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		srv := agent.NewServer(tok, options.WithLogger(logger))
		logger.Info("agent listening", slog.String("addr", ln.Addr().String()))

		err = srv.Serve(ctx, ln)
		if statePath != "" {
			if saveErr := saveToken(tok, statePath); saveErr != nil {
				return saveErr
			}
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func loadToken(statePath string) (*pivtest.Token, error) {
	if statePath == "" {
		return pivtest.New(), nil
	}

	f, err := os.Open(statePath)
	if errors.Is(err, fs.ErrNotExist) {
		return pivtest.New(), nil
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = f.Close()
	}()

	tok, err := pivtest.LoadState(f)
	if err != nil {
		return nil, fmt.Errorf("loading token state: %w", err)
	}
	return tok, nil
}

func saveToken(tok *pivtest.Token, statePath string) error {
	f, err := os.OpenFile(statePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}

	if err := tok.SaveState(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func init() {
	agentCmd.Flags().String("state", "", "file to persist the software token's state in")
	agentCmd.Flags().Duration("touch-delay", 0, "simulate a touch requirement by delaying authentication")
}
