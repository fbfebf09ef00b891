package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/go-ctap/pivman/pkg/options"
	"github.com/go-ctap/pivman/pkg/piv"
	"github.com/go-ctap/pivman/pkg/pivman"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the token application to factory settings",
	Long: `Reset the token application. All data objects are deleted and the PIN,
PUK and management key return to their factory defaults. The remaining
PIN and PUK attempts are burned first, since the token only resets once
both are blocked.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !confirm("WARNING! This deletes all stored data and restores factory settings. Proceed") {
			return errors.New("cancelled by user")
		}

		sess, err := openSession()
		if err != nil {
			return err
		}
		defer func() {
			_ = sess.Close()
		}()

		cl := pivman.NewClient(options.WithLogger(logger))
		if err := cl.Reset(sess); err != nil {
			return err
		}

		fmt.Println("Token reset.")
		fmt.Printf("Default PIN: %s\nDefault PUK: %s\n", piv.DefaultPIN, piv.DefaultPUK)
		fmt.Println("Default management key restored.")
		return nil
	},
}
