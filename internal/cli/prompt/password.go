package prompt

import (
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
)

// ErrSecretMismatch is returned when the confirmation differs.
var ErrSecretMismatch = errors.New("secrets do not match")

// Secret reads a masked value of at least minLength characters.
func Secret(label string, minLength int) (string, error) {
	p := promptui.Prompt{
		Label: label,
		Mask:  '*',
		Validate: func(input string) error {
			if len(input) < minLength {
				return fmt.Errorf("must be at least %d characters", minLength)
			}
			return nil
		},
	}

	result, err := p.Run()
	if IsAborted(err) {
		return "", ErrAborted
	}
	return result, err
}

// SecretWithConfirmation reads a masked value twice.
func SecretWithConfirmation(label, confirmLabel string, minLength int) (string, error) {
	first, err := Secret(label, minLength)
	if err != nil {
		return "", err
	}
	second, err := Secret(confirmLabel, 0)
	if err != nil {
		return "", err
	}
	if first != second {
		return "", ErrSecretMismatch
	}
	return first, nil
}
