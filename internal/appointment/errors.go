package appointment

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrStorage    = errors.New("storage failure")

	ErrUserNotFound         = fmt.Errorf("user %w", ErrNotFound)
	ErrTypeNotFound         = fmt.Errorf("appointment type %w", ErrNotFound)
	ErrVetNotFound          = fmt.Errorf("veterinarian %w", ErrNotFound)
	ErrClientNotFound       = fmt.Errorf("client %w", ErrNotFound)
	ErrPetNotFound          = fmt.Errorf("pet %w", ErrNotFound)
	ErrAppointmentNotFound  = fmt.Errorf("appointment %w", ErrNotFound)
	ErrAvailabilityNotFound = fmt.Errorf("availability window %w", ErrNotFound)

	ErrOutOfAvailability      = errors.New("requested time is outside the veterinarian's availability")
	ErrSlotOverlap            = errors.New("requested time overlaps another appointment")
	ErrNoVetAvailable         = errors.New("no on-call veterinarian is available")
	ErrEmergencyAlreadyActive = errors.New("veterinarian already has an active emergency appointment")
	ErrInvalidTransition      = errors.New("invalid state transition")
	ErrAlreadyTerminal        = errors.New("appointment is already completed or cancelled")
	ErrVetBusy                = errors.New("veterinarian schedule is being updated, please retry")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// wrapStore passes classified store errors through and wraps everything else as ErrStorage.
func wrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStorage) ||
		errors.Is(err, ErrSlotOverlap) || errors.Is(err, ErrEmergencyAlreadyActive) {
		return err
	}
	return storageError(op, err)
}
