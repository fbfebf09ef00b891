package cli

import (
	"fmt"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/go-ctap/pivman/pkg/options"
	"github.com/go-ctap/pivman/pkg/reader"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show token status and management key protection",
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
		record := resolver.Record()

		attempts, err := sess.PINAttempts()
		if err != nil {
			return err
		}
		fmt.Printf("PIN tries remaining: %d\n", attempts)

		switch {
		case record.HasDerivedKey():
			fmt.Println("Management key is derived from the PIN.")
		case record.HasStoredKey():
			fmt.Println("Management key is stored on the token, protected by the PIN.")
		default:
			fmt.Println("Management key is not protected by the PIN.")
		}

		if record.PUKBlocked() {
			fmt.Println("PUK is blocked.")
		}
		return nil
	},
}

var readersCmd = &cobra.Command{
	Use:   "readers",
	Short: "List connected smart card readers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		wait, _ := cmd.Flags().GetBool("wait")
		query, _ := cmd.Flags().GetString("reader")

		if wait {
			name, err := reader.WaitForCard(cmd.Context(), query, options.WithLogger(logger))
			if err != nil {
				return err
			}
			fmt.Println(name)
			return nil
		}

		infos, err := reader.List(options.WithLogger(logger))
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			fmt.Println("No readers connected.")
			return nil
		}

		if query != "" {
			info, err := reader.Find(infos, query)
			if err != nil {
				return err
			}
			fmt.Printf("%s%s\n", info.Name, lo.Ternary(info.Present, " (card present)", ""))
			return nil
		}

		for i, info := range infos {
			fmt.Printf("%d) %s%s\n", i, info.Name, lo.Ternary(info.Present, " (card present)", ""))
		}
		return nil
	},
}

func init() {
	readersCmd.Flags().Bool("wait", false, "block until a card is present, then print its reader")
	readersCmd.Flags().String("reader", "", "reader index or name substring to match")
}
