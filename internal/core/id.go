package core

import "github.com/google/uuid"

// NewID returns a time-ordered UUID v7 so workspace and request ids
// sort by creation time, which the cursor-paginated listings rely on.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
