package validations

import (
	"context"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	domainArtifact "github.com/orbitalweb/ow-agent/domains/artifact"
	pkgError "github.com/orbitalweb/ow-agent/pkg/error"
)

func sessionIDRule(value any) error {
	s, _ := value.(string)
	if strings.Contains(s, domainArtifact.KeySeparator) {
		return validation.NewError("validation_session_separator",
			"sessionId must not contain the storage-key separator '"+domainArtifact.KeySeparator+"'")
	}
	return nil
}

func tokenRule(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	if !domainArtifact.ValidateToken(s) {
		return validation.NewError("validation_token_format",
			"must be an 8-character lowercase alphanumeric token")
	}
	return nil
}

func storageKeyRule(value any) error {
	s, _ := value.(string)
	if !domainArtifact.ValidateStorageKey(s) {
		return validation.NewError("validation_storage_key",
			"must have the shape {sessionId}_{taskId}_{turnId} with 8-character task/turn tokens")
	}
	return nil
}

func ValidateSessionID(ctx context.Context, sessionID string) error {
	err := validation.ValidateWithContext(ctx, sessionID,
		validation.Required.Error("sessionId is required"),
		validation.By(sessionIDRule),
	)
	if err != nil {
		return pkgError.ValidationError("sessionId: " + err.Error())
	}
	return nil
}

func ValidateStorageKey(ctx context.Context, storageKey string) error {
	err := validation.ValidateWithContext(ctx, storageKey,
		validation.Required.Error("storageKey is required"),
		validation.By(storageKeyRule),
	)
	if err != nil {
		return pkgError.ValidationError("storageKey: " + err.Error())
	}
	return nil
}

func ValidateWriteRequest(ctx context.Context, request domainArtifact.WriteRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.SessionID, validation.Required.Error("sessionId is required"), validation.By(sessionIDRule)),
		// NotNil, not Required: "", 0 and false are valid payloads.
		validation.Field(&request.Data, validation.NotNil.Error("data is required")),
		validation.Field(&request.TaskID, validation.By(tokenRule)),
		validation.Field(&request.TurnID, validation.By(tokenRule)),
	)
	if err != nil {
		return pkgError.ValidationError(err.Error())
	}
	return nil
}

func ValidateUpdateRequest(ctx context.Context, request domainArtifact.UpdateRequest) error {
	err := validation.ValidateStructWithContext(ctx, &request,
		validation.Field(&request.StorageKey, validation.Required.Error("storageKey is required"), validation.By(storageKeyRule)),
		validation.Field(&request.Data, validation.NotNil.Error("data is required")),
	)
	if err != nil {
		return pkgError.ValidationError(err.Error())
	}
	return nil
}

func ValidateConfigUpdate(ctx context.Context, update domainArtifact.CacheConfigUpdate) error {
	if update.OutdatedCleanupDays != nil {
		days := *update.OutdatedCleanupDays
		if days < 1 && days != domainArtifact.CleanupDisabled {
			return pkgError.ValidationError("outdatedCleanupDays must be >= 1, or -1 to disable cleanup")
		}
	}
	if update.SessionEvictionFraction != nil {
		fraction := *update.SessionEvictionFraction
		if fraction <= 0 || fraction > 1 {
			return pkgError.ValidationError("sessionEvictionFraction must be in (0, 1]")
		}
	}
	return nil
}
