package types

import (
	"bytes"
	"encoding/json"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

type SessionKey struct{}

type CallKey struct{}

// GetErrorResponse builds a tool result flagged as an error.
func GetErrorResponse(message string) *mcptypes.CallToolResult {
	return &mcptypes.CallToolResult{
		IsError: true,
		Content: []mcptypes.Content{
			mcptypes.TextContent{
				Type: "text",
				Text: message,
			},
		},
	}
}

// GetTextResponse wraps plain text into a tool result.
func GetTextResponse(text string) *mcptypes.CallToolResult {
	return &mcptypes.CallToolResult{
		Content: []mcptypes.Content{
			mcptypes.TextContent{
				Type: "text",
				Text: text,
			},
		},
	}
}

// GetJsonResponse serializes payload as the text content of a tool result.
func GetJsonResponse(payload any) (*mcptypes.CallToolResult, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, err
	}
	return GetTextResponse(string(bytes.TrimRight(buf.Bytes(), "\n"))), nil
}
