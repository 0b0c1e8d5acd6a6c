// Package storage holds what the notification store backends share.
package storage

import (
	"errors"
	"fmt"

	"eventmailer/internal/models"
)

var (
	ErrRecordNotFound = errors.New("notification record not found")
	ErrUnknownKind    = errors.New("unknown notification kind")
)

// CheckKind rejects kinds the stores have no columns for.
func CheckKind(kind models.Kind) error {
	if _, err := models.ParseKind(string(kind)); err != nil {
		return fmt.Errorf("%q: %w", kind, ErrUnknownKind)
	}
	return nil
}
