package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/quicksettings/internal/observer"
	"github.com/kalambet/quicksettings/internal/tray"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Observer *observer.Observer
	Tray     *tray.Tray
}

// NewMCPServer creates an MCP server with all qsettings tools and resources registered.
func NewMCPServer(deps MCPDeps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"qsettings",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("qsettings exposes device settings and the quick-settings tray buttons."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("get_setting",
			mcp.WithDescription("Read the current value of a device setting."),
			mcp.WithString("key", mcp.Description("Setting name, e.g. nfc.status"), mcp.Required()),
		),
		mcpGetSetting(deps),
	)

	s.AddTool(
		mcp.NewTool("set_setting",
			mcp.WithDescription("Write a device setting. Interested buttons update on their own."),
			mcp.WithString("key", mcp.Description("Setting name"), mcp.Required()),
			mcp.WithString("value", mcp.Description("JSON value, e.g. true, 7 or \"enabled\". Text that is not JSON is stored as a string."), mcp.Required()),
		),
		mcpSetSetting(deps),
	)

	s.AddTool(
		mcp.NewTool("list_buttons",
			mcp.WithDescription("List the quick-settings buttons with their current state."),
		),
		mcpListButtons(deps),
	)

	s.AddTool(
		mcp.NewTool("press_button",
			mcp.WithDescription("Press a quick-settings button, as a tap on the tray would."),
			mcp.WithString("id", mcp.Description("Button ID (quick-settings-nfc) or item name (nfc)"), mcp.Required()),
		),
		mcpPressButton(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"tray://state",
			"Tray State",
			mcp.WithResourceDescription("Rendered items, button states, layout and brightness slider as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceTray(deps),
	)

	return s
}

func mcpGetSetting(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}

		r, err := deps.Observer.Get(key)
		if err != nil {
			return mcpError(fmt.Sprintf("read failed: %v", err)), nil
		}
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		result, err := r.Wait(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("read failed: %v", err)), nil
		}

		v, ok := result[key]
		if !ok {
			return mcpText(fmt.Sprintf("%s is not set", key)), nil
		}
		b, err := json.Marshal(SettingValue{Key: key, Value: v})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal value: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSetSetting(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		key, err := req.RequireString("key")
		if err != nil {
			return mcpError("key is required"), nil
		}
		raw, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}

		r, err := deps.Observer.Set(map[string]any{key: value})
		if err != nil {
			return mcpError(fmt.Sprintf("write failed: %v", err)), nil
		}
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()
		if _, err := r.Wait(ctx); err != nil {
			return mcpError(fmt.Sprintf("write failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Set %s = %s", key, raw)), nil
	}
}

func mcpListButtons(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		b, err := json.Marshal(deps.Tray.Snapshot().Buttons)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal buttons: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpPressButton(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		if err := deps.Tray.Click(id); err != nil {
			return mcpError(err.Error()), nil
		}
		return mcpText(fmt.Sprintf("Pressed %s", id)), nil
	}
}

func mcpResourceTray(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(deps.Tray.Snapshot())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tray state: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
