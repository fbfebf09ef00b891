package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/go-ctap/pivman/pkg/access"
	"github.com/go-ctap/pivman/pkg/piv"
	"github.com/go-ctap/pivman/pkg/pivman"
)

var objectAliases = map[string]piv.ObjectID{
	"chuid":       piv.ObjectIDCHUID,
	"capability":  piv.ObjectIDCapability,
	"discovery":   piv.ObjectIDDiscovery,
	"key-history": piv.ObjectIDKeyHistory,
	"printed":     piv.ObjectIDPrinted,
	"admin-data":  piv.ObjectIDAdminData,
}

func parseObjectID(s string) (piv.ObjectID, error) {
	if id, ok := objectAliases[strings.ToLower(s)]; ok {
		return id, nil
	}

	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	if err != nil {
		names := lo.Keys(objectAliases)
		slices.Sort(names)
		return 0, fmt.Errorf("unknown object %q, want a hex ID or one of %s", s, strings.Join(names, ", "))
	}
	return piv.ObjectID(v), nil
}

// ensureAuthenticated resolves management access for a write operation,
// mediating PIN retries on the terminal.
func ensureAuthenticated(cmd *cobra.Command, resolver *access.Resolver, opts ...access.AuthOption) error {
	creds, err := credentials()
	if err != nil {
		return err
	}
	return retryCredential(piv.CredentialPIN, func() error {
		_, err := resolver.EnsureAuthenticated(cmd.Context(), creds, authOpts(opts...)...)
		return err
	})
}

var exportObjectCmd = &cobra.Command{
	Use:   "export-object <object> <file>",
	Short: "Export a data object to a file",
	Long: `Export a data object. The object is an alias like "chuid" or a hex tag
number. Use "-" to write to standard output. Reading a PIN-gated object
asks for the PIN.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseObjectID(args[0])
		if err != nil {
			return err
		}
		logger.Debug("exporting object", slog.String("object", id.String()))

		sess, err := openSession()
		if err != nil {
			return err
		}
		defer func() {
			_ = sess.Close()
		}()

		data, err := sess.GetObject(id)
		if errors.Is(err, piv.ErrSecurityStatus) {
			resolver, resolverErr := newResolver(sess)
			if resolverErr != nil {
				return resolverErr
			}
			creds, credsErr := credentials()
			if credsErr != nil {
				return credsErr
			}
			err = retryCredential(piv.CredentialPIN, func() error {
				return resolver.VerifyPIN(cmd.Context(), creds.PIN)
			})
			if err == nil {
				data, err = sess.GetObject(id)
			}
		}
		if errors.Is(err, piv.ErrNotFound) {
			return fmt.Errorf("object %s holds no data", args[0])
		}
		if err != nil {
			return err
		}

		if args[1] == "-" {
			_, err = os.Stdout.Write(data)
			return err
		}
		if err := os.WriteFile(args[1], data, 0o600); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Exported %d bytes to %s.\n", len(data), args[1])
		return nil
	},
}

var importObjectCmd = &cobra.Command{
	Use:   "import-object <object> <file>",
	Short: "Write a data object from a file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseObjectID(args[0])
		if err != nil {
			return err
		}

		var data []byte
		if args[1] == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(args[1])
		}
		if err != nil {
			return err
		}
		logger.Debug("importing object", slog.String("object", id.String()), slog.Int("size", len(data)))

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
		if err := ensureAuthenticated(cmd, resolver); err != nil {
			return err
		}

		if err := sess.PutObject(id, data); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Imported %d bytes into %s.\n", len(data), args[0])
		return nil
	},
}

var chuidCmd = &cobra.Command{
	Use:   "chuid",
	Short: "Generate and write a new cardholder unique identifier",
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
		if err := ensureAuthenticated(cmd, resolver); err != nil {
			return err
		}

		if err := sess.PutObject(piv.ObjectIDCHUID, pivman.GenerateCHUID()); err != nil {
			return err
		}
		fmt.Println("New CHUID written.")
		return nil
	},
}

var cccCmd = &cobra.Command{
	Use:   "ccc",
	Short: "Generate and write a new card capability container",
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
		if err := ensureAuthenticated(cmd, resolver); err != nil {
			return err
		}

		ccc, err := pivman.GenerateCCC()
		if err != nil {
			return err
		}
		if err := sess.PutObject(piv.ObjectIDCapability, ccc); err != nil {
			return err
		}
		fmt.Println("New CCC written.")
		return nil
	},
}
