// Package prompt wraps promptui for the interactive questions asked by
// destructive commands.
package prompt

import (
	"errors"
	"fmt"

	"github.com/manifoldco/promptui"
)

// ErrAborted is returned when the user presses Ctrl+C.
var ErrAborted = errors.New("aborted")

// IsAborted reports whether err came from the user interrupting a prompt.
func IsAborted(err error) bool {
	return errors.Is(err, promptui.ErrInterrupt) || errors.Is(err, ErrAborted)
}

// ConfirmDanger asks the user to type confirmWord before a destructive
// operation. Any other answer declines.
func ConfirmDanger(label, confirmWord string) (bool, error) {
	p := promptui.Prompt{
		Label: fmt.Sprintf("%s (type '%s' to confirm)", label, confirmWord),
	}

	result, err := p.Run()
	switch {
	case errors.Is(err, promptui.ErrInterrupt):
		return false, ErrAborted
	case errors.Is(err, promptui.ErrAbort):
		return false, nil
	case err != nil:
		return false, err
	}
	return result == confirmWord, nil
}

// ConfirmWithForce skips the question when force is set.
func ConfirmWithForce(label, confirmWord string, force bool) (bool, error) {
	if force {
		return true, nil
	}
	return ConfirmDanger(label, confirmWord)
}
