package jsonrpc

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/cockroachdb/errors"
)

const (
	ERROR_SERVER           = -32000
	ERROR_NOT_FOUND        = -32001
	ERROR_SESSION_BUSY     = -32002
	ERROR_SESSION_CLOSED   = -32003
	ERROR_PARSE            = -32700
	ERROR_INVALID_REQUEST  = -32600
	ERROR_METHOD_NOT_FOUND = -32601
	ERROR_INVALID_PARAMS   = -32602
	ERROR_INTERNAL         = -32603
)

const (
	JsonRpcVersion = "2.0"
)

const (
	MSG_TYPE_REQUEST = iota
	MSG_TYPE_RESPONSE
	MSG_TYPE_NOTIFY
	MSG_TYPE_ERROR
)

var (
	ErrEmptyPayload = errors.New("empty JSON-RPC payload")
	ErrEmptyBatch   = errors.New("empty JSON-RPC batch")
)

type RawMessage struct {
	JsonRpc string          `json:"jsonrpc"`
	Id      *any            `json:"id,omitempty"`
	Method  *string         `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   json.RawMessage `json:"error,omitempty"`
}

func (rm *RawMessage) Validate() (int, error) {
	if rm.JsonRpc != JsonRpcVersion {
		return MSG_TYPE_ERROR, errors.New("invalid or missing JSON-RPC version")
	}
	isPresentId := rm.Id != nil
	isMethodPresent := rm.Method != nil
	isParamsPresent := rm.Params != nil
	isResultPresent := rm.Result != nil
	isErrorPresent := rm.Error != nil

	// check id type (must be string or integer number)
	if isPresentId {
		val := *rm.Id
		if _, ok := val.(string); !ok {
			if floatVal, ok := val.(float64); !ok {
				return MSG_TYPE_ERROR, errors.New("id must be a string or an integer number")
			} else if _, frac := math.Modf(floatVal); frac != 0 {
				return MSG_TYPE_ERROR, errors.New("id must be a string or an integer number")
			}
		}
	}

	if isMethodPresent {
		// request or notification
		if isResultPresent || isErrorPresent {
			return MSG_TYPE_ERROR, errors.New("both method and result or error are present")
		}
		if *rm.Method == "" {
			return MSG_TYPE_ERROR, errors.New("method must not be empty")
		}
		if !isPresentId {
			return MSG_TYPE_NOTIFY, nil
		} else {
			return MSG_TYPE_REQUEST, nil
		}
	}

	// response
	if !isPresentId {
		return MSG_TYPE_ERROR, errors.New("id is missing")
	}
	if !isResultPresent && !isErrorPresent {
		return MSG_TYPE_ERROR, errors.New("both result or error are missing")
	} else if isResultPresent && isErrorPresent {
		return MSG_TYPE_ERROR, errors.New("result and error are both present")
	}
	if isParamsPresent {
		return MSG_TYPE_ERROR, errors.New("params are present in response")
	}

	return MSG_TYPE_RESPONSE, nil
}

// GetId returns the message id or nil when the message carries none.
func (rm *RawMessage) GetId() any {
	if rm.Id == nil {
		return nil
	}
	return *rm.Id
}

// GetMethod returns the method name or an empty string.
func (rm *RawMessage) GetMethod() string {
	if rm.Method == nil {
		return ""
	}
	return *rm.Method
}

// SplitPayload splits an HTTP body into its JSON-RPC messages. The returned
// flag reports whether the body was a batch.
func SplitPayload(body []byte) ([]json.RawMessage, bool, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, false, ErrEmptyPayload
	}

	switch trimmed[0] {
	case '{':
		if !json.Valid(trimmed) {
			return nil, false, errors.New("failed to parse JSON-RPC message")
		}
		return []json.RawMessage{json.RawMessage(trimmed)}, false, nil
	case '[':
		batch := []json.RawMessage{}
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, true, errors.Wrap(err, "failed to parse JSON-RPC batch")
		}
		if len(batch) == 0 {
			return nil, true, ErrEmptyBatch
		}
		return batch, true, nil
	default:
		return nil, false, errors.New("JSON-RPC payload must be an object or an array")
	}
}

type Response struct {
	JsonRpc string         `json:"jsonrpc"`
	Result  any            `json:"result,omitempty"`
	Error   *ErrorResponse `json:"error,omitempty"`
	Id      any            `json:"id"`
}

type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *ErrorResponse) Error() string {
	return e.Message
}

func GetErrorResponse(errMsg string, code int, data any, id any) *Response {
	return &Response{
		JsonRpc: JsonRpcVersion,
		Error: &ErrorResponse{
			Code:    code,
			Message: errMsg,
			Data:    data,
		},
		Id: id,
	}
}

func GetResultResponse(result any, id any) *Response {
	return &Response{
		JsonRpc: JsonRpcVersion,
		Result:  result,
		Id:      id,
	}
}
