package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
	log "github.com/sirupsen/logrus"

	"github.com/mjytdlp/mjytdlp/jsonrpc"
	"github.com/mjytdlp/mjytdlp/metrics"
	"github.com/mjytdlp/mjytdlp/storages/sessions"
	"github.com/mjytdlp/mjytdlp/tools"
	mjytypes "github.com/mjytdlp/mjytdlp/types"
)

// Reply holds the responses produced for one inbound body, in request order.
// Notifications and client responses produce nothing.
type Reply struct {
	Responses []*jsonrpc.Response
	Batch     bool
	// Rejected is set when a single message was not valid JSON-RPC and
	// Responses holds its -32600 error.
	Rejected bool
}

// Empty reports whether the body carried only notifications or responses.
func (r *Reply) Empty() bool {
	return len(r.Responses) == 0
}

// Payload is what goes on the wire: the single response, or the array for a batch.
func (r *Reply) Payload() any {
	if r.Batch {
		return r.Responses
	}
	return r.Responses[0]
}

// Dispatcher runs JSON-RPC messages against the session store and the tool
// registry. It is shared by both transports.
type Dispatcher struct {
	sessions *sessions.Store
	registry *tools.Registry
	metrics  *metrics.Metrics
}

func NewDispatcher(store *sessions.Store, registry *tools.Registry, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{
		sessions: store,
		registry: registry,
		metrics:  m,
	}
}

// Handle processes a body. sess is nil for stateless calls. The second return
// value is set only when the body can not be split into messages at all.
func (d *Dispatcher) Handle(ctx context.Context, sess *sessions.Session, body []byte) (*Reply, *jsonrpc.Response) {
	messages, batch, err := jsonrpc.SplitPayload(body)
	if err != nil {
		code := jsonrpc.ERROR_PARSE
		message := "Parse error"
		if errors.Is(err, jsonrpc.ErrEmptyBatch) {
			code = jsonrpc.ERROR_INVALID_REQUEST
			message = "Invalid Request"
		}
		log.WithError(err).Debug("Rejected JSON-RPC payload")
		return nil, jsonrpc.GetErrorResponse(message, code, nil, nil)
	}

	reply := &Reply{Batch: batch}
	for _, raw := range messages {
		resp, failure := d.handleMessage(ctx, sess, raw)
		if failure != nil {
			reply.Rejected = !batch
			resp = failure
		}
		if resp != nil {
			reply.Responses = append(reply.Responses, resp)
		}
	}
	return reply, nil
}

// handleMessage returns the response for one message, nil for notifications.
// failure is set for messages that are not valid JSON-RPC.
func (d *Dispatcher) handleMessage(ctx context.Context, sess *sessions.Session, raw json.RawMessage) (resp *jsonrpc.Response, failure *jsonrpc.Response) {
	msg := jsonrpc.RawMessage{}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, jsonrpc.GetErrorResponse("Invalid Request", jsonrpc.ERROR_INVALID_REQUEST, nil, nil)
	}
	msgType, err := msg.Validate()
	if err != nil {
		log.WithError(err).Debug("Invalid JSON-RPC message")
		return nil, jsonrpc.GetErrorResponse("Invalid Request", jsonrpc.ERROR_INVALID_REQUEST, nil, validId(&msg))
	}

	switch msgType {
	case jsonrpc.MSG_TYPE_NOTIFY:
		d.handleNotification(sess, msg.GetMethod())
		return nil, nil
	case jsonrpc.MSG_TYPE_RESPONSE:
		// the server never sends requests, so client responses are dropped
		return nil, nil
	}

	method := msg.GetMethod()
	id := msg.GetId()
	if strings.HasPrefix(method, notificationPrefix) {
		return nil, nil
	}

	resp = d.handleRequest(ctx, sess, method, id, msg.Params)

	outcome := metrics.OutcomeOk
	if resp.Error != nil {
		outcome = metrics.OutcomeError
	} else if result, ok := resp.Result.(*mcptypes.CallToolResult); ok && result.IsError {
		outcome = metrics.OutcomeToolError
	}
	d.metrics.Call(method, outcome)
	return resp, nil
}

func validId(msg *jsonrpc.RawMessage) any {
	switch id := msg.GetId().(type) {
	case string:
		return id
	case float64:
		return id
	}
	return nil
}

func (d *Dispatcher) handleNotification(sess *sessions.Session, method string) {
	if method != methodInitialized || sess == nil {
		log.WithField("method", method).Debug("Notification ignored")
		return
	}

	unlock := sess.LockState()
	defer unlock()
	if err := d.sessions.MarkInitialized(sess.Id); err != nil {
		log.WithError(err).WithField("session_id", sess.Id).Warning("Failed to mark session initialized")
	}
}

func (d *Dispatcher) handleRequest(ctx context.Context, sess *sessions.Session, method string, id any, params json.RawMessage) *jsonrpc.Response {
	switch method {
	case methodInitialize:
		return d.initialize(sess, id, params)
	case methodPing:
		return jsonrpc.GetResultResponse(&struct{}{}, id)
	case methodToolsList:
		return jsonrpc.GetResultResponse(&toolsListResult{Tools: d.registry.List()}, id)
	case methodToolsCall:
		return d.callTool(ctx, sess, id, params)
	case methodResourcesList:
		return jsonrpc.GetResultResponse(&resourcesListResult{Resources: []mcptypes.Resource{}}, id)
	case methodTemplatesList:
		return jsonrpc.GetResultResponse(&templatesListResult{ResourceTemplates: []mcptypes.ResourceTemplate{}}, id)
	case methodPromptsList:
		return jsonrpc.GetResultResponse(&promptsListResult{Prompts: []mcptypes.Prompt{}}, id)
	case methodPromptsGet:
		return jsonrpc.GetErrorResponse("Prompt not found", jsonrpc.ERROR_METHOD_NOT_FOUND, nil, id)
	default:
		return jsonrpc.GetErrorResponse("Method not found: "+method, jsonrpc.ERROR_METHOD_NOT_FOUND, nil, id)
	}
}

func (d *Dispatcher) initialize(sess *sessions.Session, id any, params json.RawMessage) *jsonrpc.Response {
	initParams := initializeRequestParams{}
	if len(bytes.TrimSpace(params)) > 0 {
		if err := json.Unmarshal(params, &initParams); err != nil {
			return jsonrpc.GetErrorResponse("Invalid params", jsonrpc.ERROR_INVALID_PARAMS, nil, id)
		}
	}

	protocolVersion := strings.TrimSpace(initParams.ProtocolVersion)
	if protocolVersion == "" {
		protocolVersion = defaultProtocolVersion
	}

	if sess != nil {
		client := sessions.ClientInfo{}
		if initParams.ClientInfo != nil {
			client.Name = initParams.ClientInfo.Name
			client.Version = initParams.ClientInfo.Version
		}
		unlock := sess.LockState()
		err := d.sessions.Initialize(sess.Id, client, protocolVersion)
		unlock()
		if err != nil {
			return sessionErrorResponse(err, id)
		}
		log.WithFields(log.Fields{
			"session_id":     sess.Id,
			"client_name":    client.Name,
			"client_version": client.Version,
			"protocol":       protocolVersion,
		}).Info("Session initialized")
	}

	return jsonrpc.GetResultResponse(&initializeResult{
		ProtocolVersion: protocolVersion,
		ServerInfo: &serverInfo{
			Name:    ServerName,
			Version: ServerVersion,
		},
		Capabilities: &serverCapabilities{
			Tools: &serverCap{ListChanged: false},
		},
	}, id)
}

func (d *Dispatcher) callTool(ctx context.Context, sess *sessions.Session, id any, params json.RawMessage) *jsonrpc.Response {
	callParams := toolsCallParams{}
	if err := json.Unmarshal(params, &callParams); err != nil || strings.TrimSpace(callParams.Name) == "" {
		return jsonrpc.GetErrorResponse("Invalid params: missing tool name", jsonrpc.ERROR_INVALID_PARAMS, nil, id)
	}

	var args map[string]any
	if raw := bytes.TrimSpace(callParams.Arguments); len(raw) > 0 && !bytes.Equal(raw, []byte("null")) {
		if err := json.Unmarshal(raw, &args); err != nil {
			return jsonrpc.GetErrorResponse("Invalid params: arguments must be an object", jsonrpc.ERROR_INVALID_PARAMS, nil, id)
		}
	}

	fields := log.Fields{
		"tool":    callParams.Name,
		"call_id": id,
	}
	// tool calls outlive the client connection, bounded by their own timeout
	callCtx := context.WithoutCancel(ctx)
	callCtx = context.WithValue(callCtx, mjytypes.CallKey{}, id)
	if sess != nil {
		fields["session_id"] = sess.Id
		callCtx = context.WithValue(callCtx, mjytypes.SessionKey{}, sess.Id)
	}

	result, err := d.registry.Execute(callCtx, callParams.Name, args)
	if err != nil {
		var validationErr *tools.ValidationError
		switch {
		case errors.Is(err, tools.ErrToolNotFound):
			return jsonrpc.GetErrorResponse("Unknown tool: "+callParams.Name, jsonrpc.ERROR_METHOD_NOT_FOUND, nil, id)
		case errors.As(err, &validationErr):
			return jsonrpc.GetErrorResponse(validationErr.Error(), jsonrpc.ERROR_INVALID_PARAMS, nil, id)
		default:
			log.WithFields(fields).WithError(err).Error("Tool call failed")
			return jsonrpc.GetErrorResponse("Internal error", jsonrpc.ERROR_INTERNAL, nil, id)
		}
	}

	log.WithFields(fields).WithField("is_error", result.IsError).Debug("Tool call finished")
	return jsonrpc.GetResultResponse(result, id)
}

// sessionErrorResponse maps store errors onto their JSON-RPC codes.
func sessionErrorResponse(err error, id any) *jsonrpc.Response {
	code, _, message := sessionErrorCode(err)
	return jsonrpc.GetErrorResponse(message, code, nil, id)
}

// sessionErrorCode returns the JSON-RPC code, HTTP status and message for a
// session error.
func sessionErrorCode(err error) (int, int, string) {
	switch {
	case errors.Is(err, sessions.ErrSessionNotFound):
		return jsonrpc.ERROR_NOT_FOUND, 404, "Session not found"
	case errors.Is(err, sessions.ErrSessionBusy):
		return jsonrpc.ERROR_SESSION_BUSY, 409, "Session already has an attached stream"
	case errors.Is(err, sessions.ErrSessionClosed):
		return jsonrpc.ERROR_SESSION_CLOSED, 410, "Session is closed"
	default:
		return jsonrpc.ERROR_INTERNAL, 500, "Internal error"
	}
}
