package error

import (
	"fmt"
	"net/http"
)

// ItemNotFoundError is returned when a storage key does not resolve to a
// cached artifact.
type ItemNotFoundError struct {
	StorageKey string
}

func (err ItemNotFoundError) Error() string {
	return fmt.Sprintf("cache item not found: %s", err.StorageKey)
}

func (err ItemNotFoundError) ErrCode() string {
	return "ITEM_NOT_FOUND"
}

func (err ItemNotFoundError) StatusCode() int {
	return http.StatusNotFound
}
