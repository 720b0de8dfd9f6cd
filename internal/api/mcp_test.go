package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/quicksettings/internal/tray"
)

// --- helpers ---

func newTestMCPDeps(t *testing.T, initial map[string]any) (MCPDeps, *testEnv) {
	t.Helper()
	env := setupEnv(t, "", initial)
	return MCPDeps{Observer: env.observer, Tray: env.tray}, env
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func makeReadResourceRequest(uri string) mcp.ReadResourceRequest {
	return mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{
			URI: uri,
		},
	}
}

// --- tests ---

func TestNewMCPServer(t *testing.T) {
	deps, _ := newTestMCPDeps(t, nil)
	if s := NewMCPServer(deps, "test"); s == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_GetSetting(t *testing.T) {
	deps, _ := newTestMCPDeps(t, map[string]any{"nfc.status": "enabled"})
	handler := mcpGetSetting(deps)

	result, err := handler(context.Background(), makeCallToolRequest("get_setting", map[string]interface{}{
		"key": "nfc.status",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}

	var got SettingValue
	if err := json.Unmarshal([]byte(toolText(t, result)), &got); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if got.Value != "enabled" {
		t.Errorf("value = %v, want enabled", got.Value)
	}
}

func TestMCPTool_GetSetting_Unset(t *testing.T) {
	deps, _ := newTestMCPDeps(t, nil)
	result, err := mcpGetSetting(deps)(context.Background(), makeCallToolRequest("get_setting", map[string]interface{}{
		"key": "missing.key",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError || toolText(t, result) != "missing.key is not set" {
		t.Fatalf("unexpected response: %s", toolText(t, result))
	}
}

func TestMCPTool_GetSetting_MissingKey(t *testing.T) {
	deps, _ := newTestMCPDeps(t, nil)
	result, err := mcpGetSetting(deps)(context.Background(), makeCallToolRequest("get_setting", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for missing key")
	}
}

func TestMCPTool_SetSetting(t *testing.T) {
	deps, env := newTestMCPDeps(t, nil)
	handler := mcpSetSetting(deps)

	tests := []struct {
		raw  string
		want any
	}{
		{"true", true},
		{"7", float64(7)},
		{`"enabled"`, "enabled"},
		{"plain text", "plain text"},
	}
	for _, tt := range tests {
		result, err := handler(context.Background(), makeCallToolRequest("set_setting", map[string]interface{}{
			"key":   "test.value",
			"value": tt.raw,
		}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.IsError {
			t.Fatalf("unexpected error: %s", toolText(t, result))
		}
		if got := env.stored(t, "test.value"); got != tt.want {
			t.Errorf("stored %q as %v (%T), want %v", tt.raw, got, got, tt.want)
		}
	}
}

func TestMCPTool_SetSetting_ReadOnly(t *testing.T) {
	deps, _ := newTestMCPDeps(t, nil)
	result, err := mcpSetSetting(deps)(context.Background(), makeCallToolRequest("set_setting", map[string]interface{}{
		"key":   "nfc.status",
		"value": `"enabled"`,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError || !strings.Contains(toolText(t, result), "permission denied") {
		t.Fatalf("expected permission error, got: %s", toolText(t, result))
	}
}

func TestMCPTool_ListButtons(t *testing.T) {
	deps, _ := newTestMCPDeps(t, nil)
	result, err := mcpListButtons(deps)(context.Background(), makeCallToolRequest("list_buttons", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var buttons []tray.State
	if err := json.Unmarshal([]byte(toolText(t, result)), &buttons); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(buttons) != len(tray.DefaultItems()) {
		t.Fatalf("expected %d buttons, got %d", len(tray.DefaultItems()), len(buttons))
	}
	if buttons[0].ID != "quick-settings-nfc" {
		t.Errorf("first button = %q", buttons[0].ID)
	}
}

func TestMCPTool_PressButton(t *testing.T) {
	deps, env := newTestMCPDeps(t, nil)
	handler := mcpPressButton(deps)

	result, err := handler(context.Background(), makeCallToolRequest("press_button", map[string]interface{}{
		"id": "location",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", toolText(t, result))
	}
	waitFor(t, func() bool { return env.stored(t, tray.KeyGeolocation) == true })

	result, _ = handler(context.Background(), makeCallToolRequest("press_button", map[string]interface{}{
		"id": "teleport",
	}))
	if !result.IsError {
		t.Error("expected tool error for unknown button")
	}
}

func TestMCPResource_Tray(t *testing.T) {
	deps, _ := newTestMCPDeps(t, nil)

	contents, err := mcpResourceTray(deps)(context.Background(), makeReadResourceRequest("tray://state"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}
	if tc.URI != "tray://state" || tc.MIMEType != "application/json" {
		t.Errorf("contents = %+v", tc)
	}

	var snap tray.Snapshot
	if err := json.Unmarshal([]byte(tc.Text), &snap); err != nil {
		t.Fatalf("failed to parse tray JSON: %v", err)
	}
	if snap.Rows != 2 {
		t.Errorf("rows = %d, want 2", snap.Rows)
	}
}
