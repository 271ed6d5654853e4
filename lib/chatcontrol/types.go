package chatcontrol

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC 2.0 error codes. The -32000 range is implementation defined.
const (
	ErrCodeParseError     = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603

	ErrCodeAuthRequired = -32000 // missing, invalid or expired token
	ErrCodeAuthFailed   = -32001 // wrong password
	ErrCodeNotFound     = -32002 // named room does not exist
)

// Request is a JSON-RPC 2.0 request. A nil ID marks a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response. Exactly one of Result and Error is set.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e.Data != nil {
		return fmt.Sprintf("JSON-RPC error %d: %s (data: %v)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("JSON-RPC error %d: %s", e.Code, e.Message)
}

// ParseRequest decodes and validates a request.
func ParseRequest(data []byte) (*Request, *RPCError) {
	if len(data) == 0 {
		return nil, NewRPCError(ErrCodeParseError, "empty request")
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, NewRPCErrorWithData(ErrCodeParseError, "invalid JSON", err.Error())
	}
	if req.JSONRPC != "2.0" {
		return nil, NewRPCErrorWithData(ErrCodeInvalidRequest, "invalid JSON-RPC version",
			fmt.Sprintf("expected \"2.0\", got %q", req.JSONRPC))
	}
	if req.Method == "" {
		return nil, NewRPCError(ErrCodeInvalidRequest, "missing method name")
	}
	return &req, nil
}

// IsNotification reports whether the request expects no response.
func (r *Request) IsNotification() bool {
	return r.ID == nil
}

func NewSuccessResponse(id interface{}, result interface{}) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Result: result}
}

func NewErrorResponse(id interface{}, err *RPCError) *Response {
	return &Response{JSONRPC: "2.0", ID: id, Error: err}
}

func NewRPCError(code int, message string) *RPCError {
	return &RPCError{Code: code, Message: message}
}

func NewRPCErrorWithData(code int, message string, data interface{}) *RPCError {
	return &RPCError{Code: code, Message: message, Data: data}
}
