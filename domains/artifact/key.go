package artifact

import (
	"fmt"
	"regexp"
	"strings"
)

// Storage keys have the shape {sessionId}_{taskId}_{turnId} with 8-character
// lowercase alphanumeric task/turn segments. Session identifiers must not
// contain the separator or the split becomes ambiguous; callers supplying
// separator-bearing session ids are rejected at validation time.
const (
	KeySeparator = "_"
	TokenLength  = 8
)

var (
	storageKeyRegex = regexp.MustCompile(`^[^_]+_[a-z0-9]{8}_[a-z0-9]{8}$`)
	tokenRegex      = regexp.MustCompile(`^[a-z0-9]{8}$`)
)

// FormatStorageKey assembles the composite primary key.
func FormatStorageKey(sessionID, taskID, turnID string) string {
	return sessionID + KeySeparator + taskID + KeySeparator + turnID
}

// ValidateStorageKey structurally checks a key of unknown origin.
func ValidateStorageKey(key string) bool {
	return storageKeyRegex.MatchString(key)
}

// ValidateToken checks a caller-supplied taskId/turnId segment.
func ValidateToken(token string) bool {
	return tokenRegex.MatchString(token)
}

// ParseStorageKey splits a key back into its three parts.
func ParseStorageKey(key string) (sessionID, taskID, turnID string, err error) {
	if !ValidateStorageKey(key) {
		return "", "", "", fmt.Errorf("malformed storage key: %s", key)
	}
	parts := strings.Split(key, KeySeparator)
	return parts[0], parts[1], parts[2], nil
}
