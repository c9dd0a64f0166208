package storage

import "errors"

// ErrNotFound is returned when a document or chunk doesn't exist in the store.
type ErrNotFound struct {
	Entity string
	ID     string
}

func (e ErrNotFound) Error() string {
	if e.ID == "" {
		return e.Entity + " not found"
	}
	return e.Entity + " not found: " + e.ID
}

// IsNotFound reports whether err is an ErrNotFound.
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}
