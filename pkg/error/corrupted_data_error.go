package error

import (
	"fmt"
	"net/http"
)

// CorruptedDataError is returned when a persisted payload fails the
// re-serialization check on read. The stored record is left untouched;
// recovery is to delete the key and write it again.
type CorruptedDataError struct {
	StorageKey string
	Err        error
}

func (err CorruptedDataError) Error() string {
	return fmt.Sprintf("cached data for %s is corrupted: %v", err.StorageKey, err.Err)
}

func (err CorruptedDataError) Unwrap() error {
	return err.Err
}

func (err CorruptedDataError) ErrCode() string {
	return "CORRUPTED_DATA"
}

func (err CorruptedDataError) StatusCode() int {
	return http.StatusInternalServerError
}
