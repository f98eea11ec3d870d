package mcp

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	domainArtifact "github.com/orbitalweb/ow-agent/domains/artifact"
)

// CacheHandler exposes the artifact cache to agents as MCP tools. Responses
// follow the tool-facing contract: metadata-only on write/update so the agent
// pays a small bounded prompt cost, the full payload only on read, and
// structured error envelopes instead of raw tool errors.
type CacheHandler struct {
	cacheService domainArtifact.IArtifactCacheUsecase
}

func InitMcpCache(cacheService domainArtifact.IArtifactCacheUsecase) *CacheHandler {
	return &CacheHandler{cacheService: cacheService}
}

func (h *CacheHandler) AddCacheTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(h.toolWrite(), h.handleWrite)
	mcpServer.AddTool(h.toolRead(), h.handleRead)
	mcpServer.AddTool(h.toolList(), h.handleList)
	mcpServer.AddTool(h.toolDelete(), h.handleDelete)
	mcpServer.AddTool(h.toolUpdate(), h.handleUpdate)
}

func (h *CacheHandler) toolWrite() mcp.Tool {
	return mcp.NewTool(
		"artifact_write",
		mcp.WithDescription("Cache a large intermediate result (page scrape, partial task state) outside the prompt context and get back a compact storage key."),
		mcp.WithTitleAnnotation("Write Artifact"),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithString("sessionId",
			mcp.Description("The session this artifact belongs to. Must not contain underscores."),
			mcp.Required(),
		),
		// Declared as a string for client compatibility; the handler also
		// accepts structured JSON values and stores them as-is.
		mcp.WithString("data",
			mcp.Description("The artifact content to cache. A plain string or any JSON value; structured values are stored without re-encoding."),
			mcp.Required(),
		),
		mcp.WithString("description",
			mcp.Description("Short human-readable summary of the artifact (truncated at 500 characters)."),
		),
		mcp.WithString("taskId",
			mcp.Description("Optional 8-character lowercase alphanumeric task token; generated when omitted."),
		),
		mcp.WithString("turnId",
			mcp.Description("Optional 8-character lowercase alphanumeric turn token; generated when omitted."),
		),
		mcp.WithObject("customMetadata",
			mcp.Description("Optional opaque annotations stored alongside the artifact."),
		),
	)
}

func (h *CacheHandler) handleWrite(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("sessionId")
	if err != nil {
		return errorResult(err), nil
	}

	args := request.GetArguments()
	data, ok := args["data"]
	if !ok {
		return errorResult(fmt.Errorf("data is required")), nil
	}

	req := domainArtifact.WriteRequest{
		SessionID:      sessionID,
		Data:           data,
		Description:    request.GetString("description", ""),
		TaskID:         request.GetString("taskId", ""),
		TurnID:         request.GetString("turnId", ""),
		CustomMetadata: objectArg(args, "customMetadata"),
	}

	metadata, err := h.cacheService.Write(ctx, req)
	if err != nil {
		return errorResult(err), nil
	}

	resp := WriteResponse{Success: true, Metadata: metadata}
	fallback := fmt.Sprintf("Cached %d bytes under key %s", metadata.DataSize, metadata.StorageKey)
	return mcp.NewToolResultStructured(resp, fallback), nil
}

func (h *CacheHandler) toolRead() mcp.Tool {
	return mcp.NewTool(
		"artifact_read",
		mcp.WithDescription("Retrieve a previously cached artifact, including its full payload, by storage key."),
		mcp.WithTitleAnnotation("Read Artifact"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithString("storageKey",
			mcp.Description("The storage key returned by artifact_write."),
			mcp.Required(),
		),
	)
}

func (h *CacheHandler) handleRead(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	storageKey, err := request.RequireString("storageKey")
	if err != nil {
		return errorResult(err), nil
	}

	item, err := h.cacheService.Read(ctx, storageKey)
	if err != nil {
		return errorResult(err), nil
	}

	resp := ReadResponse{Success: true, Item: item}
	fallback := fmt.Sprintf("Retrieved %s (%d bytes)", item.StorageKey, item.DataSize)
	return mcp.NewToolResultStructured(resp, fallback), nil
}

func (h *CacheHandler) toolList() mcp.Tool {
	return mcp.NewTool(
		"artifact_list",
		mcp.WithDescription("List the cached artifacts of a session (metadata only, newest first) with the session's quota usage."),
		mcp.WithTitleAnnotation("List Artifacts"),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithString("sessionId",
			mcp.Description("The session to list."),
			mcp.Required(),
		),
	)
}

func (h *CacheHandler) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("sessionId")
	if err != nil {
		return errorResult(err), nil
	}

	items, err := h.cacheService.List(ctx, sessionID)
	if err != nil {
		return errorResult(err), nil
	}
	stats, err := h.cacheService.GetStats(ctx, sessionID)
	if err != nil {
		return errorResult(err), nil
	}

	resp := ListResponse{
		Success:               true,
		Items:                 items,
		TotalCount:            len(items),
		TotalSize:             stats.TotalSize,
		SessionQuotaUsed:      stats.TotalSize,
		SessionQuotaRemaining: domainArtifact.MaxSessionSize - stats.TotalSize,
	}
	fallback := fmt.Sprintf("Found %d cached artifacts in session %s", len(items), sessionID)
	return mcp.NewToolResultStructured(resp, fallback), nil
}

func (h *CacheHandler) toolDelete() mcp.Tool {
	return mcp.NewTool(
		"artifact_delete",
		mcp.WithDescription("Delete a cached artifact by storage key. Deleting an unknown key succeeds and reports deleted=false."),
		mcp.WithTitleAnnotation("Delete Artifact"),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithString("storageKey",
			mcp.Description("The storage key to delete."),
			mcp.Required(),
		),
	)
}

func (h *CacheHandler) handleDelete(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	storageKey, err := request.RequireString("storageKey")
	if err != nil {
		return errorResult(err), nil
	}

	deleted, err := h.cacheService.Delete(ctx, storageKey)
	if err != nil {
		return errorResult(err), nil
	}

	resp := DeleteResponse{Success: true, StorageKey: storageKey, Deleted: deleted}
	fallback := fmt.Sprintf("Deleted %s: %t", storageKey, deleted)
	return mcp.NewToolResultStructured(resp, fallback), nil
}

func (h *CacheHandler) toolUpdate() mcp.Tool {
	return mcp.NewTool(
		"artifact_update",
		mcp.WithDescription("Replace the payload and description of an existing cached artifact in place, keeping its storage key."),
		mcp.WithTitleAnnotation("Update Artifact"),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithString("storageKey",
			mcp.Description("The storage key to update."),
			mcp.Required(),
		),
		// Same duality as artifact_write: string-typed schema, any JSON
		// value accepted.
		mcp.WithString("data",
			mcp.Description("The replacement content. A plain string or any JSON value; structured values are stored without re-encoding."),
			mcp.Required(),
		),
		mcp.WithString("description",
			mcp.Description("Replacement summary (truncated at 500 characters)."),
		),
		mcp.WithObject("customMetadata",
			mcp.Description("Optional replacement annotations; omitted keeps the stored ones."),
		),
	)
}

func (h *CacheHandler) handleUpdate(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	storageKey, err := request.RequireString("storageKey")
	if err != nil {
		return errorResult(err), nil
	}

	args := request.GetArguments()
	data, ok := args["data"]
	if !ok {
		return errorResult(fmt.Errorf("data is required")), nil
	}

	req := domainArtifact.UpdateRequest{
		StorageKey:     storageKey,
		Data:           data,
		Description:    request.GetString("description", ""),
		CustomMetadata: objectArg(args, "customMetadata"),
	}

	metadata, err := h.cacheService.Update(ctx, req)
	if err != nil {
		return errorResult(err), nil
	}

	resp := WriteResponse{Success: true, Metadata: metadata}
	fallback := fmt.Sprintf("Updated %s (%d bytes)", metadata.StorageKey, metadata.DataSize)
	return mcp.NewToolResultStructured(resp, fallback), nil
}

func objectArg(args map[string]any, key string) map[string]any {
	value, ok := args[key]
	if !ok {
		return nil
	}
	object, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	return object
}
