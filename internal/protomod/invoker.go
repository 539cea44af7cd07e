package protomod

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// Invoker performs unary gRPC calls against backends using dynamic
// messages built from registered descriptors, so the gateway needs no
// generated stubs for the services it fronts. Connections are pooled per
// target.
type Invoker struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn

	retryable func(err error) bool
}

func NewInvoker() *Invoker {
	return &Invoker{
		conns: map[string]*grpc.ClientConn{},
		retryable: func(err error) bool {
			return status.Code(err) == codes.Unavailable
		},
	}
}

// Invoke calls the resolved method with a JSON request payload and
// returns the response as JSON. Unavailable backends are retried against
// the same target up to retryCount extra attempts.
func (inv *Invoker) Invoke(ctx context.Context, target string, method protoreflect.MethodDescriptor, payload []byte, retryCount int) ([]byte, error) {
	conn, err := inv.conn(target)
	if err != nil {
		return nil, err
	}

	request := dynamicpb.NewMessage(method.Input())
	if len(payload) > 0 {
		if err := protojson.Unmarshal(payload, request); err != nil {
			return nil, fmt.Errorf("decode grpc request payload: %w", err)
		}
	}
	response := dynamicpb.NewMessage(method.Output())

	fullMethod := fullMethodName(method)
	attempts := retryCount + 1
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		lastErr = conn.Invoke(ctx, fullMethod, request, response)
		if lastErr == nil {
			break
		}
		if !inv.retryable(lastErr) {
			return nil, lastErr
		}
	}
	if lastErr != nil {
		return nil, lastErr
	}

	encoded, err := protojson.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("encode grpc response: %w", err)
	}
	return encoded, nil
}

// Close releases all pooled backend connections.
func (inv *Invoker) Close() {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	for target, conn := range inv.conns {
		_ = conn.Close()
		delete(inv.conns, target)
	}
}

func (inv *Invoker) conn(target string) (*grpc.ClientConn, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if conn, ok := inv.conns[target]; ok {
		return conn, nil
	}
	conn, err := grpc.NewClient(stripScheme(target),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial grpc backend %s: %w", target, err)
	}
	inv.conns[target] = conn
	return conn, nil
}

// fullMethodName renders the wire form "/pkg.Service/Method".
func fullMethodName(method protoreflect.MethodDescriptor) string {
	service := method.Parent().(protoreflect.ServiceDescriptor)
	return "/" + string(service.FullName()) + "/" + string(method.Name())
}

func stripScheme(target string) string {
	for _, scheme := range []string{"grpc://", "http://", "https://"} {
		if strings.HasPrefix(target, scheme) {
			return strings.TrimPrefix(target, scheme)
		}
	}
	return target
}
