package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	domainArtifact "github.com/orbitalweb/ow-agent/domains/artifact"
	pkgError "github.com/orbitalweb/ow-agent/pkg/error"
)

type WriteResponse struct {
	Success  bool                        `json:"success"`
	Metadata domainArtifact.ItemMetadata `json:"metadata"`
}

type ReadResponse struct {
	Success bool                     `json:"success"`
	Item    domainArtifact.CacheItem `json:"item"`
}

type ListResponse struct {
	Success               bool                          `json:"success"`
	Items                 []domainArtifact.ItemMetadata `json:"items"`
	TotalCount            int                           `json:"totalCount"`
	TotalSize             int64                         `json:"totalSize"`
	SessionQuotaUsed      int64                         `json:"sessionQuotaUsed"`
	SessionQuotaRemaining int64                         `json:"sessionQuotaRemaining"`
}

type DeleteResponse struct {
	Success    bool   `json:"success"`
	StorageKey string `json:"storageKey"`
	Deleted    bool   `json:"deleted"`
}

// ErrorResponse is the structured failure envelope of the tool contract. The
// message carries a remediation hint the agent can act on.
type ErrorResponse struct {
	Success    bool   `json:"success"`
	ErrorType  string `json:"errorType"`
	Message    string `json:"message"`
	StorageKey string `json:"storageKey,omitempty"`
	DataSize   int64  `json:"dataSize,omitempty"`
	MaxSize    int64  `json:"maxSize,omitempty"`
	SessionID  string `json:"sessionId,omitempty"`
}

// mapError translates the typed cache errors into contract error envelopes;
// anything unrecognized becomes UnknownError.
func mapError(err error) ErrorResponse {
	switch e := err.(type) {
	case pkgError.ValidationError:
		return ErrorResponse{ErrorType: "ValidationError", Message: e.Error()}
	case pkgError.DataTooLargeError:
		return ErrorResponse{
			ErrorType: "DataTooLarge",
			Message:   e.Error() + "; split the artifact into smaller chunks and cache them separately",
			DataSize:  e.DataSize,
			MaxSize:   e.MaxSize,
		}
	case pkgError.QuotaExceededError:
		return ErrorResponse{
			ErrorType: "QuotaExceeded",
			Message:   e.Error() + "; delete artifacts you no longer need or clear the session",
			SessionID: e.SessionID,
			DataSize:  e.TotalSize,
			MaxSize:   e.MaxSize,
		}
	case pkgError.ItemNotFoundError:
		return ErrorResponse{
			ErrorType:  "ItemNotFound",
			Message:    e.Error() + "; list the session to discover live storage keys",
			StorageKey: e.StorageKey,
		}
	case pkgError.CorruptedDataError:
		return ErrorResponse{
			ErrorType:  "CorruptedData",
			Message:    e.Error() + "; delete the item and write it again",
			StorageKey: e.StorageKey,
		}
	default:
		return ErrorResponse{ErrorType: "UnknownError", Message: err.Error()}
	}
}

// errorResult wraps the envelope as a structured tool result. The tool call
// itself succeeds so the agent receives the contract shape rather than a raw
// protocol error.
func errorResult(err error) *mcp.CallToolResult {
	resp := mapError(err)
	return mcp.NewToolResultStructured(resp, resp.ErrorType+": "+resp.Message)
}
