package mcp

import (
	"encoding/json"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

const (
	ServerName    = "MJYT-DLP"
	ServerVersion = "0.2.0"

	defaultProtocolVersion = "2024-11-05"

	mcpSessionIdHeader = "Mcp-Session-Id"

	methodInitialize    = "initialize"
	methodInitialized   = "notifications/initialized"
	methodPing          = "ping"
	methodToolsList     = "tools/list"
	methodToolsCall     = "tools/call"
	methodResourcesList = "resources/list"
	methodTemplatesList = "resources/templates/list"
	methodPromptsList   = "prompts/list"
	methodPromptsGet    = "prompts/get"

	notificationPrefix = "notifications/"

	eventStreamContentType = "text/event-stream"
	jsonContentType        = "application/json"
)

type initializeRequestParams struct {
	ProtocolVersion string          `json:"protocolVersion"`
	Capabilities    json.RawMessage `json:"capabilities,omitempty"`
	ClientInfo      *clientInfo     `json:"clientInfo"`
}

type clientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeResult struct {
	ProtocolVersion string              `json:"protocolVersion"`
	Capabilities    *serverCapabilities `json:"capabilities"`
	ServerInfo      *serverInfo         `json:"serverInfo"`
	Instructions    string              `json:"instructions,omitempty"`
}

type serverCapabilities struct {
	Logging   *struct{}  `json:"logging,omitempty"`
	Prompts   *serverCap `json:"prompts,omitempty"`
	Resources *serverCap `json:"resources,omitempty"`
	Tools     *serverCap `json:"tools,omitempty"`
}

type serverCap struct {
	Subscribe   *bool `json:"subscribe,omitempty"`
	ListChanged bool  `json:"listChanged"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type toolsListResult struct {
	Tools []mcptypes.Tool `json:"tools"`
}

type resourcesListResult struct {
	Resources []mcptypes.Resource `json:"resources"`
}

type templatesListResult struct {
	ResourceTemplates []mcptypes.ResourceTemplate `json:"resourceTemplates"`
}

type promptsListResult struct {
	Prompts []mcptypes.Prompt `json:"prompts"`
}

// infoDocument answers GET on the Streamable HTTP endpoint.
type infoDocument struct {
	Name           string `json:"name"`
	Version        string `json:"version"`
	Sse            string `json:"sse"`
	StreamableHttp string `json:"streamable_http"`
}
