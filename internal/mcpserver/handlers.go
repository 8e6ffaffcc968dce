package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dmitriimaksimovdevelop/uartstress/internal/baudsweep"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/burst"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/harness"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/status"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/stress"
	"github.com/dmitriimaksimovdevelop/uartstress/internal/transport"
)

func handleRunBurst(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	device := stringArg(args, "device", "")
	if device == "" {
		return errResult("device is required"), nil
	}
	baud := intArg(args, "baud", 115200)

	sess, err := harness.Open(device, baud)
	if err != nil {
		return errResult(fmt.Sprintf("open %s: %v", device, err)), nil
	}
	defer sess.Close()

	cfg := burst.Config{
		NumTimes: intArg(args, "num_times", 1),
		MinWait:  5 * time.Millisecond,
		MaxWait:  5 * time.Millisecond,
		WaitTime: 200 * time.Millisecond,
		Samples:  intArg(args, "samples", 100),
		Length:   intArg(args, "length", 16),
		Baudrate: baud,
	}
	ctrl := burst.New(sess.Meter(), sess.Pipeline(), sess.Tables())
	results, err := ctrl.Run(cfg)
	if err != nil {
		return errResult(fmt.Sprintf("burst run failed: %v", err)), nil
	}
	return jsonResult(results)
}

func handleRunBaudSweep(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	device := stringArg(args, "device", "")
	if device == "" {
		return errResult("device is required"), nil
	}
	baud := intArg(args, "baud", 115200)

	sess, err := harness.Open(device, baud)
	if err != nil {
		return errResult(fmt.Sprintf("open %s: %v", device, err)), nil
	}
	defer sess.Close()

	cfg := baudsweep.Config{
		BaudRates: transport.DefaultBaudRates,
		Samples:   20,
		Length:    16,
		WaitTime:  200 * time.Millisecond,
	}
	ctrl := baudsweep.New(sess, sess.Meter(), sess.Pipeline(), sess.Tables(), sess.Meter().HandleMessage)
	records := ctrl.Run(cfg, baud)
	return jsonResult(records)
}

func handleRunStress(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	device := stringArg(args, "device", "")
	if device == "" {
		return errResult("device is required"), nil
	}
	baud := intArg(args, "baud", 115200)

	sess, err := harness.Open(device, baud)
	if err != nil {
		return errResult(fmt.Sprintf("open %s: %v", device, err)), nil
	}
	defer sess.Close()

	runner := stress.New(sess.Meter(), sess.Pipeline(), sess.Port(), sess, sess.Meter().HandleMessage, sess.Tables())
	cfg := stress.DefaultStressConfig()
	result := runner.Run(cfg, uuid.NewString())
	return jsonResult(result)
}

func handleRunStatusSnapshot(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := getArgs(request)
	device := stringArg(args, "device", "")
	if device == "" {
		return errResult("device is required"), nil
	}
	baud := intArg(args, "baud", 115200)

	sess, err := harness.Open(device, baud)
	if err != nil {
		return errResult(fmt.Sprintf("open %s: %v", device, err)), nil
	}
	defer sess.Close()

	snap := sess.RequestSnapshot(status.DefaultTimeout)
	return jsonResult(snap)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errResult(fmt.Sprintf("json marshal failed: %v", err)), nil
	}
	return newTextResult(string(data)), nil
}

func getArgs(request mcp.CallToolRequest) map[string]interface{} {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return map[string]interface{}{}
	}
	return args
}

func stringArg(args map[string]interface{}, key, defaultVal string) string {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	s, ok := val.(string)
	if !ok || s == "" {
		return defaultVal
	}
	return s
}

func intArg(args map[string]interface{}, key string, defaultVal int) int {
	val, ok := args[key]
	if !ok || val == nil {
		return defaultVal
	}
	f, ok := val.(float64)
	if !ok {
		return defaultVal
	}
	return int(f)
}

func newTextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func errResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
	}
}
