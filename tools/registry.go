package tools

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
	log "github.com/sirupsen/logrus"

	"github.com/mjytdlp/mjytdlp/metrics"
	"github.com/mjytdlp/mjytdlp/types"
)

var ErrToolNotFound = errors.New("tool not found")

// Tool is a registry entry. A zero Timeout leaves the deadline to the
// handler itself.
type Tool struct {
	mcpserver.ServerTool
	Timeout time.Duration
}

// Registry maps tool names to handlers. It is filled once at startup and
// only read afterwards.
type Registry struct {
	tools   map[string]*Tool
	names   []string
	metrics *metrics.Metrics
}

func NewRegistry(m *metrics.Metrics, tools ...*Tool) (*Registry, error) {
	r := &Registry{
		tools:   make(map[string]*Tool, len(tools)),
		metrics: m,
	}
	for _, tool := range tools {
		if err := r.add(tool); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(tool *Tool) error {
	name := tool.Tool.Name
	if name == "" {
		return errors.New("tool name must not be empty")
	}
	if tool.Handler == nil {
		return errors.Newf("tool %s has no handler", name)
	}
	if _, exists := r.tools[name]; exists {
		return errors.Newf("tool %s is registered twice", name)
	}
	r.tools[name] = tool
	r.names = append(r.names, name)
	return nil
}

// List returns the tool descriptors in registration order.
func (r *Registry) List() []mcptypes.Tool {
	out := make([]mcptypes.Tool, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.tools[name].Tool)
	}
	return out
}

// Execute validates args and runs the tool. ToolErrors come back as error
// results; ErrToolNotFound, *ValidationError and unexpected failures are
// returned as errors for the caller to map onto the protocol.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (*mcptypes.CallToolResult, error) {
	tool, ok := r.tools[name]
	if !ok {
		return nil, errors.Wrap(ErrToolNotFound, name)
	}
	if args == nil {
		args = map[string]any{}
	}
	if err := Validate(tool.Tool, args); err != nil {
		return nil, err
	}

	if tool.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, tool.Timeout)
		defer cancel()
	}

	request := mcptypes.CallToolRequest{}
	request.Method = string(mcptypes.MethodToolsCall)
	request.Params.Name = name
	request.Params.Arguments = args

	start := time.Now()
	result, err := tool.Handler(ctx, request)
	r.metrics.ToolDuration(name, time.Since(start))

	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			return nil, err
		}
		var toolErr *types.ToolError
		if !errors.As(err, &toolErr) {
			if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, err
			}
			toolErr = types.NewUpstreamTimeout(name, err)
		}
		log.WithFields(log.Fields{
			"tool": name,
			"kind": toolErr.Kind,
		}).WithError(toolErr).Info("Tool returned an error")
		return types.GetErrorResponse("Error: " + toolErr.Error()), nil
	}
	if result == nil {
		return types.GetTextResponse(""), nil
	}
	return result, nil
}
