package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/go-ctap/pivman/pkg/access"
	"github.com/go-ctap/pivman/pkg/options"
	"github.com/go-ctap/pivman/pkg/piv"
	"github.com/go-ctap/pivman/pkg/pivman"
)

// retryCredential re-runs op while the user can correct a mistyped PIN or
// PUK: only when the value is prompted on a terminal rather than supplied
// through a flag, and never once the credential is blocked.
func retryCredential(kind piv.CredentialKind, op func() error) error {
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if kind == piv.CredentialPIN && viper.GetString("pin") != "" {
		interactive = false
	}

	for {
		err := op()
		var authErr *piv.AuthError
		if !errors.As(err, &authErr) || authErr.Kind != kind || authErr.Blocked() || !interactive {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrong %s, %d tries left.\n", authErr.Kind, authErr.Retries)
	}
}

var verifyPINCmd = &cobra.Command{
	Use:   "verify-pin",
	Short: "Verify the PIN",
	Long: `Verify the PIN against the token. On tokens with a PIN-protected or
PIN-derived management key this also authenticates the management key
path, so it doubles as a full access check.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sess, err := openSession()
		if err != nil {
			return err
		}
		defer func() {
			_ = sess.Close()
		}()

		resolver, err := newResolver(sess)
		if err != nil {
			return err
		}
		creds, err := credentials()
		if err != nil {
			return err
		}

		if err := retryCredential(piv.CredentialPIN, func() error {
			return resolver.VerifyPIN(cmd.Context(), creds.PIN, authOpts()...)
		}); err != nil {
			return err
		}

		fmt.Println("PIN verified.")
		return nil
	},
}

var changePINCmd = &cobra.Command{
	Use:   "change-pin",
	Short: "Change the PIN",
	RunE: func(cmd *cobra.Command, _ []string) error {
		sess, err := openSession()
		if err != nil {
			return err
		}
		defer func() {
			_ = sess.Close()
		}()

		newPIN, err := promptNew(piv.CredentialPIN)
		if err != nil {
			return err
		}

		cl := pivman.NewClient(options.WithLogger(logger))
		if err := retryCredential(piv.CredentialPIN, func() error {
			current, err := promptCurrent(piv.CredentialPIN)
			if err != nil {
				return err
			}
			return cl.ChangePIN(cmd.Context(), sess, current, newPIN)
		}); err != nil {
			return err
		}

		fmt.Println("New PIN set.")
		return nil
	},
}

var changePUKCmd = &cobra.Command{
	Use:   "change-puk",
	Short: "Change the PUK",
	RunE: func(cmd *cobra.Command, _ []string) error {
		sess, err := openSession()
		if err != nil {
			return err
		}
		defer func() {
			_ = sess.Close()
		}()

		newPUK, err := promptNew(piv.CredentialPUK)
		if err != nil {
			return err
		}

		cl := pivman.NewClient(options.WithLogger(logger))
		if err := retryCredential(piv.CredentialPUK, func() error {
			current, err := promptCurrent(piv.CredentialPUK)
			if err != nil {
				return err
			}
			return cl.ChangePUK(sess, current, newPUK)
		}); err != nil {
			return err
		}

		fmt.Println("New PUK set.")
		return nil
	},
}

var unblockPINCmd = &cobra.Command{
	Use:   "unblock-pin",
	Short: "Reset a blocked PIN using the PUK",
	RunE: func(cmd *cobra.Command, _ []string) error {
		sess, err := openSession()
		if err != nil {
			return err
		}
		defer func() {
			_ = sess.Close()
		}()

		newPIN, err := promptNew(piv.CredentialPIN)
		if err != nil {
			return err
		}

		cl := pivman.NewClient(options.WithLogger(logger))
		if err := retryCredential(piv.CredentialPUK, func() error {
			puk, err := promptCurrent(piv.CredentialPUK)
			if err != nil {
				return err
			}
			return cl.UnblockPIN(sess, puk, newPIN)
		}); err != nil {
			return err
		}

		fmt.Println("PIN unblocked and set.")
		return nil
	},
}

var setRetriesCmd = &cobra.Command{
	Use:   "set-retries <pin-retries> <puk-retries>",
	Short: "Set the PIN and PUK retry counters",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		pinRetries, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid PIN retry count: %w", err)
		}
		pukRetries, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid PUK retry count: %w", err)
		}
		if pinRetries < 1 || pinRetries > 255 || pukRetries < 1 || pukRetries > 255 {
			return errors.New("retry counts must be between 1 and 255")
		}

		if !confirm(fmt.Sprintf(
			"Set the PIN and PUK retry counters to %d and %d? This resets both codes to their factory defaults",
			pinRetries, pukRetries,
		)) {
			return errors.New("cancelled by user")
		}

		sess, err := openSession()
		if err != nil {
			return err
		}
		defer func() {
			_ = sess.Close()
		}()

		resolver, err := newResolver(sess)
		if err != nil {
			return err
		}

		// The token wants both factors for retry policy changes.
		if err := ensureAuthenticated(cmd, resolver, access.RequireBothFactors()); err != nil {
			return err
		}

		cl := pivman.NewClient(options.WithLogger(logger))
		if err := cl.SetPINAttempts(sess, pinRetries, pukRetries); err != nil {
			return err
		}

		fmt.Printf("Retry counters set to %d (PIN) and %d (PUK).\n", pinRetries, pukRetries)
		fmt.Println("Both codes are back to their factory defaults.")
		return nil
	},
}

// setManagementKey writes the new key, handling an old stored key that
// cannot be cleared because the PIN was never verified. The operator may
// confirm leaving the stale key behind; in force mode that case fails
// instead of being decided silently.
func setManagementKey(cl *pivman.Client, sess piv.Session, newKey []byte, opts pivman.KeyOptions, force bool, confirmOrphan func() bool) error {
	err := cl.SetManagementKey(sess, newKey, opts)
	if !errors.Is(err, pivman.ErrStoredKeyOrphaned) {
		return err
	}
	if force || !confirmOrphan() {
		return err
	}
	opts.AllowOrphaned = true
	return cl.SetManagementKey(sess, newKey, opts)
}

var changeManagementKeyCmd = &cobra.Command{
	Use:   "change-management-key",
	Short: "Change the management key",
	Long: `Change the management key. The new key can be given in hex, generated
randomly, and optionally stored on the token protected by the PIN so
that day-to-day management needs no separate key.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		protect, _ := cmd.Flags().GetBool("protect")
		touch, _ := cmd.Flags().GetBool("touch")
		generate, _ := cmd.Flags().GetBool("generate")
		newKeyHex, _ := cmd.Flags().GetString("new-management-key")
		force := viper.GetBool("force")

		sess, err := openSession()
		if err != nil {
			return err
		}
		defer func() {
			_ = sess.Close()
		}()

		resolver, err := newResolver(sess)
		if err != nil {
			return err
		}
		creds, err := credentials()
		if err != nil {
			return err
		}
		record := resolver.Record()

		resolveOpts := []access.AuthOption{access.WithKeyPrompt("Enter the current management key")}
		if protect {
			resolveOpts = append(resolveOpts, access.RequireBothFactors())
		}

		var outcome *access.Outcome
		if err := retryCredential(piv.CredentialPIN, func() error {
			var err error
			outcome, err = resolver.EnsureAuthenticated(cmd.Context(), creds, authOpts(resolveOpts...)...)
			return err
		}); err != nil {
			return err
		}

		// The PIN is also needed to store the key, or to clear an old
		// stored key when a PIN was supplied.
		if !outcome.PINVerified && (protect || (record.HasStoredKey() && creds.PIN != "")) {
			if err := retryCredential(piv.CredentialPIN, func() error {
				return resolver.VerifyPIN(cmd.Context(), creds.PIN, authOpts()...)
			}); err != nil {
				return err
			}
		}

		var newKey []byte
		switch {
		case generate:
			if newKey, err = pivman.GenerateManagementKey(); err != nil {
				return err
			}
		case newKeyHex != "":
			if newKey, err = pivman.ParseManagementKey(newKeyHex); err != nil {
				return err
			}
		default:
			if force {
				return errors.New("no new management key given, use --generate or --new-management-key")
			}
			s, err := promptHidden("Enter the new management key [blank to generate]: ")
			if err != nil {
				return err
			}
			if s == "" {
				generate = true
				if newKey, err = pivman.GenerateManagementKey(); err != nil {
					return err
				}
			} else {
				if newKey, err = pivman.ParseManagementKey(s); err != nil {
					return err
				}
			}
		}

		if generate && !protect {
			fmt.Printf("Generated management key: %x\n", newKey)
		}

		cl := pivman.NewClient(options.WithLogger(logger))
		keyOpts := pivman.KeyOptions{
			RequireTouch:  touch,
			StoreOnDevice: protect,
		}

		err = setManagementKey(cl, sess, newKey, keyOpts, force, func() bool {
			return ask("The old management key is stored on the token and will not be cleared without the PIN. Continue anyway")
		})
		if err != nil {
			return err
		}

		if protect {
			fmt.Println("Management key stored on the token, protected by the PIN.")
		} else {
			fmt.Println("New management key set.")
		}
		return nil
	},
}

func init() {
	changeManagementKeyCmd.Flags().BoolP("generate", "g", false, "generate a random management key")
	changeManagementKeyCmd.Flags().BoolP("protect", "p", false, "store the key on the token, protected by the PIN")
	changeManagementKeyCmd.Flags().BoolP("touch", "t", false, "require touch for management key authentication")
	changeManagementKeyCmd.Flags().String("new-management-key", "", "new management key in hex")
	changeManagementKeyCmd.MarkFlagsMutuallyExclusive("generate", "new-management-key")
}
