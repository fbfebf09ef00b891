package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/go-ctap/pivman/pkg/piv"
	"github.com/go-ctap/pivman/pkg/pivman"
)

// stdin buffers line reads so consecutive prompts in one run share any
// already-buffered input.
var stdin = bufio.NewReader(os.Stdin)

// terminalPrompter asks for credentials on the terminal, without echo.
type terminalPrompter struct{}

func (*terminalPrompter) PIN(_ context.Context) (string, error) {
	pin, err := promptHidden("Enter PIN: ")
	if err != nil {
		return "", err
	}
	if !piv.ValidPIN(pin) {
		return "", errors.New("PIN must be 6-8 characters long")
	}
	return pin, nil
}

func (*terminalPrompter) ManagementKey(_ context.Context, prompt string) ([]byte, error) {
	s, err := promptHidden(prompt + " [blank to use default key]: ")
	if err != nil {
		return nil, err
	}
	if s == "" {
		return piv.DefaultManagementKey(), nil
	}
	return pivman.ParseManagementKey(s)
}

// promptHidden reads a line without echoing when stdin is a terminal.
// End of input with nothing read is an error.
func promptHidden(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	if term.IsTerminal(int(os.Stdin.Fd())) {
		b, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	s, err := stdin.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || s == "") {
		return "", fmt.Errorf("reading input: %w", err)
	}
	return strings.TrimSpace(s), nil
}

// promptCurrent returns the flag-supplied PIN or PUK, prompting otherwise.
func promptCurrent(kind piv.CredentialKind) (string, error) {
	if kind == piv.CredentialPIN {
		if pin := viper.GetString("pin"); pin != "" {
			return pin, nil
		}
	}
	return promptHidden("Enter current " + kind.String() + ": ")
}

// promptNew asks for a new PIN or PUK twice and validates its length.
func promptNew(kind piv.CredentialKind) (string, error) {
	for {
		first, err := promptHidden("Enter new " + kind.String() + ": ")
		if err != nil {
			return "", err
		}
		if !piv.ValidPIN(first) {
			fmt.Fprintf(os.Stderr, "%s must be 6-8 characters long.\n", kind)
			continue
		}

		second, err := promptHidden("Repeat for confirmation: ")
		if err != nil {
			return "", err
		}
		if first != second {
			fmt.Fprintln(os.Stderr, "Values do not match, try again.")
			continue
		}
		return first, nil
	}
}

// confirm asks a yes/no question, unless --force is set.
func confirm(prompt string) bool {
	if viper.GetBool("force") {
		return true
	}
	return ask(prompt)
}

// ask asks a yes/no question and defaults to no. Unlike confirm it is
// never answered by --force.
func ask(prompt string) bool {
	fmt.Fprintf(os.Stderr, "%s [y/N]: ", prompt)
	s, err := stdin.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false
	}
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "y" || s == "yes"
}
