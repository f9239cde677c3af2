package signer

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// readPassword is a test seam for term.ReadPassword.
// In tests you can replace it with a stub to avoid touching the terminal.
var readPassword = term.ReadPassword

// PromptSecret prints a prompt to w and reads the API secret from the
// user's terminal without echo. A newline is printed after the read to keep
// the UI tidy.
func PromptSecret(w io.Writer) ([]byte, error) {
	if _, err := fmt.Fprint(w, "Enter API secret: "); err != nil {
		return nil, err
	}
	secret, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return nil, err
	}
	return secret, nil
}
