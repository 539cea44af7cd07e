package protomod

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/apigate/gatewayd/internal/registry"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
)

// ErrMethodNotFound is returned when no uploaded descriptor set defines
// the requested service method.
var ErrMethodNotFound = errors.New("protomod: method not found in descriptor set")

// Registry resolves gRPC methods from FileDescriptorSets uploaded per
// API version. Parsed descriptor files are cached in memory; the raw
// sets live in the durable store so restarts rebuild the same registry.
type Registry struct {
	store *registry.Store

	mu    sync.RWMutex
	files map[string]*protoregistry.Files
}

func NewRegistry(store *registry.Store) *Registry {
	return &Registry{store: store, files: map[string]*protoregistry.Files{}}
}

func descriptorKey(apiName, version string) string {
	return apiName + "/" + version
}

// Register parses and stores a serialized FileDescriptorSet for an API
// version, replacing any previous upload.
func (r *Registry) Register(ctx context.Context, apiName, version string, descriptorSet []byte) error {
	files, err := parseDescriptorSet(descriptorSet)
	if err != nil {
		return err
	}
	if err := r.store.UpsertProtoDescriptor(ctx, apiName, version, descriptorSet); err != nil {
		return err
	}
	r.mu.Lock()
	r.files[descriptorKey(apiName, version)] = files
	r.mu.Unlock()
	return nil
}

// ResolveMethod finds "Service.Method" (or "pkg.Service.Method") within
// the API version's descriptor set, loading it from the store on first
// use.
func (r *Registry) ResolveMethod(ctx context.Context, apiName, version, method string) (protoreflect.MethodDescriptor, error) {
	files, err := r.load(ctx, apiName, version)
	if err != nil {
		return nil, err
	}

	dot := strings.LastIndex(method, ".")
	if dot <= 0 || dot == len(method)-1 {
		return nil, fmt.Errorf("protomod: malformed method %q, want Service.Method", method)
	}
	serviceName, methodName := method[:dot], method[dot+1:]

	var found protoreflect.MethodDescriptor
	files.RangeFiles(func(fd protoreflect.FileDescriptor) bool {
		services := fd.Services()
		for i := 0; i < services.Len(); i++ {
			service := services.Get(i)
			if string(service.FullName()) != serviceName && string(service.Name()) != serviceName {
				continue
			}
			if md := service.Methods().ByName(protoreflect.Name(methodName)); md != nil {
				found = md
				return false
			}
		}
		return true
	})
	if found == nil {
		return nil, ErrMethodNotFound
	}
	return found, nil
}

func (r *Registry) load(ctx context.Context, apiName, version string) (*protoregistry.Files, error) {
	key := descriptorKey(apiName, version)
	r.mu.RLock()
	files, ok := r.files[key]
	r.mu.RUnlock()
	if ok {
		return files, nil
	}

	raw, err := r.store.GetProtoDescriptor(ctx, apiName, version)
	if err != nil {
		return nil, err
	}
	files, err = parseDescriptorSet(raw)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.files[key] = files
	r.mu.Unlock()
	return files, nil
}

func parseDescriptorSet(raw []byte) (*protoregistry.Files, error) {
	var set descriptorpb.FileDescriptorSet
	if err := proto.Unmarshal(raw, &set); err != nil {
		return nil, fmt.Errorf("protomod: parse descriptor set: %w", err)
	}
	files, err := protodesc.NewFiles(&set)
	if err != nil {
		return nil, fmt.Errorf("protomod: build descriptor files: %w", err)
	}
	return files, nil
}
