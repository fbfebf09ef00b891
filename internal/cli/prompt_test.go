package cli

import (
	"bufio"
	"io"
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-ctap/pivman/pkg/piv"
)

// feedStdin swaps stdin for a pipe pre-filled with input, closed at the
// far end so reads past it hit EOF.
func feedStdin(t *testing.T, input string) {
	t.Helper()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	if input != "" {
		_, err = w.WriteString(input)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	oldFile, oldReader := os.Stdin, stdin
	os.Stdin = r
	stdin = bufio.NewReader(r)
	t.Cleanup(func() {
		os.Stdin, stdin = oldFile, oldReader
		_ = r.Close()
	})
}

func TestPromptHiddenReadsLine(t *testing.T) {
	feedStdin(t, "123456\n")

	s, err := promptHidden("Enter PIN: ")
	require.NoError(t, err)
	assert.Equal(t, "123456", s)
}

func TestPromptHiddenLastLineWithoutNewline(t *testing.T) {
	feedStdin(t, "123456")

	s, err := promptHidden("Enter PIN: ")
	require.NoError(t, err)
	assert.Equal(t, "123456", s)
}

func TestPromptHiddenExhaustedInput(t *testing.T) {
	feedStdin(t, "")

	_, err := promptHidden("Enter PIN: ")
	assert.ErrorIs(t, err, io.EOF)
}

func TestPromptNewStopsWhenInputRunsOut(t *testing.T) {
	// A too-short value followed by nothing. The loop must give up
	// instead of re-prompting forever.
	feedStdin(t, "short\n")

	_, err := promptNew(piv.CredentialPIN)
	assert.ErrorIs(t, err, io.EOF)
}

func TestPromptNewMismatchThenMatch(t *testing.T) {
	feedStdin(t, "123456\n654321\n765432\n765432\n")

	pin, err := promptNew(piv.CredentialPIN)
	require.NoError(t, err)
	assert.Equal(t, "765432", pin)
}

func TestAskDefaultsToNo(t *testing.T) {
	feedStdin(t, "\n")
	assert.False(t, ask("Proceed"))

	feedStdin(t, "y\n")
	assert.True(t, ask("Proceed"))

	feedStdin(t, "")
	assert.False(t, ask("Proceed"))
}

func TestAskIgnoresForce(t *testing.T) {
	viper.Set("force", true)
	t.Cleanup(func() { viper.Set("force", false) })

	feedStdin(t, "")
	assert.False(t, ask("Proceed"))
}

func TestConfirmHonorsForce(t *testing.T) {
	viper.Set("force", true)
	t.Cleanup(func() { viper.Set("force", false) })

	feedStdin(t, "")
	assert.True(t, confirm("Proceed"))
}
