package mcpserver

import (
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

// --- getArgs / stringArg / intArg helpers ---

func TestGetArgs_NilArguments(t *testing.T) {
	req := mcp.CallToolRequest{}
	args := getArgs(req)
	if args == nil {
		t.Fatal("getArgs returned nil, expected empty map")
	}
	if len(args) != 0 {
		t.Fatalf("expected empty map, got %v", args)
	}
}

func TestGetArgs_ValidMap(t *testing.T) {
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]interface{}{
				"key": "value",
			},
		},
	}
	args := getArgs(req)
	if v, ok := args["key"]; !ok || v != "value" {
		t.Fatalf("expected key=value, got %v", args)
	}
}

func TestGetArgs_WrongType(t *testing.T) {
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: "not a map",
		},
	}
	args := getArgs(req)
	if len(args) != 0 {
		t.Fatalf("expected empty map for wrong type, got %v", args)
	}
}

func TestStringArg_Present(t *testing.T) {
	args := map[string]interface{}{"device": "/dev/ttyUSB0"}
	if got := stringArg(args, "device", "default"); got != "/dev/ttyUSB0" {
		t.Fatalf("expected '/dev/ttyUSB0', got %q", got)
	}
}

func TestStringArg_Missing(t *testing.T) {
	args := map[string]interface{}{}
	if got := stringArg(args, "device", "default"); got != "default" {
		t.Fatalf("expected 'default', got %q", got)
	}
}

func TestStringArg_NilValue(t *testing.T) {
	args := map[string]interface{}{"device": nil}
	if got := stringArg(args, "device", "default"); got != "default" {
		t.Fatalf("expected 'default' for nil value, got %q", got)
	}
}

func TestStringArg_EmptyString(t *testing.T) {
	args := map[string]interface{}{"device": ""}
	if got := stringArg(args, "device", "default"); got != "default" {
		t.Fatalf("expected 'default' for empty string, got %q", got)
	}
}

func TestStringArg_WrongType(t *testing.T) {
	args := map[string]interface{}{"device": 42}
	if got := stringArg(args, "device", "default"); got != "default" {
		t.Fatalf("expected 'default' for wrong type, got %q", got)
	}
}

func TestIntArg_Present(t *testing.T) {
	args := map[string]interface{}{"baud": float64(230400)}
	if got := intArg(args, "baud", 115200); got != 230400 {
		t.Fatalf("expected 230400, got %d", got)
	}
}

func TestIntArg_Missing(t *testing.T) {
	args := map[string]interface{}{}
	if got := intArg(args, "baud", 115200); got != 115200 {
		t.Fatalf("expected default 115200, got %d", got)
	}
}

func TestIntArg_NilValue(t *testing.T) {
	args := map[string]interface{}{"baud": nil}
	if got := intArg(args, "baud", 115200); got != 115200 {
		t.Fatalf("expected default for nil value, got %d", got)
	}
}

func TestIntArg_WrongType(t *testing.T) {
	args := map[string]interface{}{"baud": "fast"}
	if got := intArg(args, "baud", 115200); got != 115200 {
		t.Fatalf("expected default for wrong type, got %d", got)
	}
}

// --- newTextResult / errResult ---

func TestNewTextResult(t *testing.T) {
	result := newTextResult("hello world")
	if result.IsError {
		t.Fatal("newTextResult should not set IsError")
	}
	if len(result.Content) != 1 {
		t.Fatalf("expected 1 content item, got %d", len(result.Content))
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	if tc.Text != "hello world" {
		t.Fatalf("expected 'hello world', got %q", tc.Text)
	}
}

func TestErrResult(t *testing.T) {
	result := errResult("something failed")
	if !result.IsError {
		t.Fatal("errResult should set IsError=true")
	}
	if len(result.Content) != 1 {
		t.Fatalf("expected 1 content item, got %d", len(result.Content))
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	if tc.Text != "something failed" {
		t.Fatalf("expected 'something failed', got %q", tc.Text)
	}
}

// --- jsonResult ---

func TestJSONResult_MarshalsValue(t *testing.T) {
	res, err := jsonResult(map[string]int{"sent": 3})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsError {
		t.Fatal("expected success, got IsError")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatal("expected TextContent")
	}
	if tc.Text == "" {
		t.Fatal("expected non-empty JSON text")
	}
}

func TestJSONResult_UnmarshalableValue(t *testing.T) {
	res, err := jsonResult(make(chan int))
	if err != nil {
		t.Fatalf("unexpected Go error (should not propagate marshal failure): %v", err)
	}
	if !res.IsError {
		t.Fatal("expected IsError for unmarshalable value")
	}
}

// --- handlers without a device require the arg up front ---

func TestHandleRunBurst_MissingDevice(t *testing.T) {
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]interface{}{},
		},
	}
	res, err := handleRunBurst(nil, req)
	if err != nil {
		t.Fatalf("unexpected Go error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected IsError for missing device")
	}
}

func TestHandleRunBaudSweep_MissingDevice(t *testing.T) {
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]interface{}{},
		},
	}
	res, err := handleRunBaudSweep(nil, req)
	if err != nil {
		t.Fatalf("unexpected Go error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected IsError for missing device")
	}
}

func TestHandleRunStress_MissingDevice(t *testing.T) {
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]interface{}{},
		},
	}
	res, err := handleRunStress(nil, req)
	if err != nil {
		t.Fatalf("unexpected Go error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected IsError for missing device")
	}
}

func TestHandleRunStatusSnapshot_MissingDevice(t *testing.T) {
	req := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]interface{}{},
		},
	}
	res, err := handleRunStatusSnapshot(nil, req)
	if err != nil {
		t.Fatalf("unexpected Go error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected IsError for missing device")
	}
}

// --- Server creation ---

func TestNewServer(t *testing.T) {
	srv := NewServer("1.0.0-test")
	if srv == nil {
		t.Fatal("NewServer returned nil")
	}
	if srv.mcpServer == nil {
		t.Fatal("mcpServer is nil")
	}
}
