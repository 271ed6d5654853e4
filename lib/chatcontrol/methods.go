package chatcontrol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/niss337/securechat/lib/util/logger"
)

// RPCHandler handles one JSON-RPC method. Errors should be *RPCError;
// anything else is reported as an internal error.
type RPCHandler interface {
	Handle(ctx context.Context, params json.RawMessage) (interface{}, error)
}

// RPCHandlerFunc adapts a function to RPCHandler.
type RPCHandlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

func (f RPCHandlerFunc) Handle(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return f(ctx, params)
}

// MethodRegistry maps method names to handlers.
type MethodRegistry struct {
	mu       sync.RWMutex
	handlers map[string]RPCHandler
}

func NewMethodRegistry() *MethodRegistry {
	return &MethodRegistry{handlers: make(map[string]RPCHandler)}
}

// Register installs handler for method, replacing any previous one.
func (mr *MethodRegistry) Register(method string, handler RPCHandler) {
	mr.mu.Lock()
	mr.handlers[method] = handler
	mr.mu.Unlock()
	log.WithFields(logger.Fields{
		"at":     "chatcontrol.MethodRegistry.Register",
		"method": method,
	}).Debug("rpc_method_registered")
}

// IsRegistered reports whether method has a handler.
func (mr *MethodRegistry) IsRegistered(method string) bool {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	_, ok := mr.handlers[method]
	return ok
}

// ListMethods returns the registered method names, sorted.
func (mr *MethodRegistry) ListMethods() []string {
	mr.mu.RLock()
	defer mr.mu.RUnlock()
	methods := make([]string, 0, len(mr.handlers))
	for m := range mr.handlers {
		methods = append(methods, m)
	}
	sort.Strings(methods)
	return methods
}

// Dispatch runs the handler for method.
func (mr *MethodRegistry) Dispatch(ctx context.Context, method string, params json.RawMessage) (interface{}, *RPCError) {
	mr.mu.RLock()
	handler, ok := mr.handlers[method]
	mr.mu.RUnlock()
	if !ok {
		log.WithFields(logger.Fields{
			"at":     "chatcontrol.MethodRegistry.Dispatch",
			"method": method,
		}).Debug("rpc_method_not_found")
		return nil, NewRPCError(ErrCodeMethodNotFound, fmt.Sprintf("method %q not found", method))
	}

	result, err := handler.Handle(ctx, params)
	if err == nil {
		return result, nil
	}
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return nil, rpcErr
	}
	log.WithFields(logger.Fields{
		"at":     "chatcontrol.MethodRegistry.Dispatch",
		"method": method,
	}).WithError(err).Error("rpc_handler_failed")
	return nil, NewRPCErrorWithData(ErrCodeInternalError, "internal error", err.Error())
}

// HandleParsedRequest dispatches req. It returns nil for notifications.
func (mr *MethodRegistry) HandleParsedRequest(ctx context.Context, req *Request) *Response {
	result, rpcErr := mr.Dispatch(ctx, req.Method, req.Params)
	if req.IsNotification() {
		return nil
	}
	if rpcErr != nil {
		return NewErrorResponse(req.ID, rpcErr)
	}
	return NewSuccessResponse(req.ID, result)
}
