package error

import (
	"fmt"
	"net/http"

	"github.com/dustin/go-humanize"
)

// QuotaExceededError is part of the tool-facing contract. The default write
// path evicts pre-emptively instead of raising it, but deployments that prefer
// hard rejection over eviction surface this error.
type QuotaExceededError struct {
	SessionID string
	TotalSize int64
	MaxSize   int64
}

func (err QuotaExceededError) Error() string {
	return fmt.Sprintf("session %s quota exceeded: %s of %s used",
		err.SessionID, humanize.Bytes(uint64(err.TotalSize)), humanize.Bytes(uint64(err.MaxSize)))
}

func (err QuotaExceededError) ErrCode() string {
	return "QUOTA_EXCEEDED"
}

func (err QuotaExceededError) StatusCode() int {
	return http.StatusInsufficientStorage
}
