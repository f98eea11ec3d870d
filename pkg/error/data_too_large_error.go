package error

import (
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
)

// DataTooLargeError is returned when a payload exceeds the per-item cap.
// Nothing is persisted when this error is raised.
type DataTooLargeError struct {
	DataSize int64
	MaxSize  int64
}

func (err DataTooLargeError) Error() string {
	return fmt.Sprintf("data size %s exceeds the per-item limit of %s",
		humanize.Bytes(uint64(err.DataSize)), humanize.Bytes(uint64(err.MaxSize)))
}

func (err DataTooLargeError) ErrCode() string {
	return "DATA_TOO_LARGE"
}

func (err DataTooLargeError) StatusCode() int {
	return http.StatusRequestEntityTooLarge
}
