package inventory

import (
	"errors"

	"github.com/erazemk/shramba/internal/model"
)

// Errors reported by the controller.
var (
	ErrRemoteUnavailable    = errors.New("remote collection unavailable")
	ErrRemoteWriteFailed    = errors.New("remote write failed")
	ErrEmptyInput           = errors.New("empty input")
	ErrNoValidRecords       = errors.New("no valid records")
	ErrConfirmationDeclined = errors.New("confirmation declined")
	ErrItemNotFound         = errors.New("item not found")
	ErrUnknownFilter        = errors.New("unknown filter")
	ErrUnknownSortColumn    = errors.New("unknown sort column")
	ErrNotSignedIn          = errors.New("not signed in")

	ErrInvalidDate = model.ErrInvalidDate
)
