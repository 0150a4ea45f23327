// Package cli provides the secret-prompting helpers used by cmd/myfsctl.
// It contains no business logic - every command built on it calls
// straight into internal/session and internal/volume.
package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"
)

var (
	ErrSecretMismatch = errors.New("secrets do not match")
	ErrSecretEmpty    = errors.New("secret cannot be empty")
)

func isTerminal() bool {
	return term.IsTerminal(int(syscall.Stdin))
}

// readSecretSecure reads one line from stdin, without echo when stdin is
// a terminal and via plain buffered read otherwise (spec §6: CLI must
// work both interactively and piped for scripted use).
func readSecretSecure(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	if !isTerminal() {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("reading secret: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	raw, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return string(raw), nil
}

// ReadMasterSecret prompts for the master secret, confirming twice when
// creating a new volume.
func ReadMasterSecret(confirm bool) (string, error) {
	return readConfirmed("Master secret: ", "Confirm master secret: ", confirm)
}

// ReadFileSecret prompts for a per-file secret, confirming twice when
// setting or changing one.
func ReadFileSecret(confirm bool) (string, error) {
	return readConfirmed("File secret: ", "Confirm file secret: ", confirm)
}

// ReadSessionSecret prompts for the day-gated session secret (spec §4.4).
func ReadSessionSecret() (string, error) {
	return readSecretSecure("Session secret: ")
}

func readConfirmed(prompt, confirmPrompt string, confirm bool) (string, error) {
	secret, err := readSecretSecure(prompt)
	if err != nil {
		return "", err
	}
	if secret == "" {
		return "", ErrSecretEmpty
	}
	if confirm {
		again, err := readSecretSecure(confirmPrompt)
		if err != nil {
			return "", err
		}
		if secret != again {
			return "", ErrSecretMismatch
		}
	}
	return secret, nil
}

// ReadSecretFromStdin reads one line without prompting, for non-
// interactive/scripted use (e.g. piping a secret via a file descriptor).
func ReadSecretFromStdin() (string, error) {
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading secret from stdin: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
