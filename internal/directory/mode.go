package directory

import (
	"fmt"

	"github.com/campusconnect/ecsbridge/internal/models"
	appErrors "github.com/campusconnect/ecsbridge/pkg/errors"
)

// Transition validates a directory tree mode change. Pending trees choose
// Whole or Manual exactly once; Deleted is reachable from every state and
// terminal. Re-asserting the current mode is a harmless no-op. Everything
// else is a programming or configuration error and is rejected loudly
// instead of being silently ignored.
func Transition(from, to models.DirectoryMode) error {
	if from == to {
		return nil
	}

	if from == models.DirectoryModeDeleted {
		return appErrors.NewConfiguration("directory tree is deleted; its mode can no longer change")
	}

	switch to {
	case models.DirectoryModeDeleted:
		return nil
	case models.DirectoryModeWhole, models.DirectoryModeManual:
		if from == models.DirectoryModePending {
			return nil
		}
		return appErrors.NewConfiguration(
			fmt.Sprintf("directory tree mapping mode is %s and cannot become %s", from, to),
		)
	case models.DirectoryModePending:
		return appErrors.NewConfiguration("directory tree cannot return to pending")
	default:
		return appErrors.NewConfiguration(fmt.Sprintf("unknown directory tree mode %q", to))
	}
}
