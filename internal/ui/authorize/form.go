// Package authorize prompts for the OAuth authorization code during the
// authorize command.
package authorize

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/huh"
)

// Prompt shows authURL and asks the user to paste the code the consent
// page returned. Accessible mode reads plain lines, for use when in is
// not a terminal.
func Prompt(authURL string, in io.Reader, out io.Writer, accessible bool) (string, error) {
	var code string

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Authorize Gmail access").
				Description("Open this link in your browser and approve read-only access:\n\n"+authURL),
			huh.NewInput().
				Title("Authorization code").
				Value(&code).
				Validate(validateCode),
		),
	).
		WithInput(in).
		WithOutput(out).
		WithAccessible(accessible)

	if err := form.Run(); err != nil {
		return "", fmt.Errorf("reading authorization code: %w", err)
	}
	return strings.TrimSpace(code), nil
}

func validateCode(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return errors.New("authorization code is required")
	}
	if strings.ContainsAny(s, " \t") {
		return errors.New("authorization code must not contain spaces")
	}
	return nil
}
