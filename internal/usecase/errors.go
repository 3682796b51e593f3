package usecase

import (
	"errors"
	"fmt"
)

var (
	ErrJobStore = errors.New("job store error")
	ErrQueue    = errors.New("queue error")
)

func wrapStore(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrJobStore, err)
}

func wrapQueue(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrQueue, err)
}
