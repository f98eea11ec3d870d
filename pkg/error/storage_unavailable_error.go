package error

import "net/http"

// StorageUnavailableError means the persistent store could not be reached.
// It is fatal to the calling operation and is not retried internally.
type StorageUnavailableError string

func (err StorageUnavailableError) Error() string {
	return string(err)
}

func (err StorageUnavailableError) ErrCode() string {
	return "STORAGE_UNAVAILABLE"
}

func (err StorageUnavailableError) StatusCode() int {
	return http.StatusServiceUnavailable
}
