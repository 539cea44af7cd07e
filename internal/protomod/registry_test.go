package protomod

import (
	"context"
	"testing"

	"github.com/apigate/gatewayd/internal/database"
	"github.com/apigate/gatewayd/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := database.NewSQLiteDB("file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return NewRegistry(registry.NewStore(db))
}

// billingDescriptorSet builds a minimal serialized FileDescriptorSet
// declaring billing.Billing/Charge.
func billingDescriptorSet(t *testing.T) []byte {
	t.Helper()
	file := &descriptorpb.FileDescriptorProto{
		Name:    proto.String("billing.proto"),
		Package: proto.String("billing"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("ChargeRequest"),
				Field: []*descriptorpb.FieldDescriptorProto{
					{
						Name:     proto.String("amount"),
						Number:   proto.Int32(1),
						Type:     descriptorpb.FieldDescriptorProto_TYPE_INT64.Enum(),
						Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
						JsonName: proto.String("amount"),
					},
				},
			},
			{Name: proto.String("ChargeResponse")},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: proto.String("Billing"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:       proto.String("Charge"),
						InputType:  proto.String(".billing.ChargeRequest"),
						OutputType: proto.String(".billing.ChargeResponse"),
					},
				},
			},
		},
	}
	raw, err := proto.Marshal(&descriptorpb.FileDescriptorSet{
		File: []*descriptorpb.FileDescriptorProto{file},
	})
	require.NoError(t, err)
	return raw
}

func TestRegistry_RegisterAndResolve(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "billing", "v1", billingDescriptorSet(t)))

	method, err := reg.ResolveMethod(ctx, "billing", "v1", "Billing.Charge")
	require.NoError(t, err)
	assert.Equal(t, "Charge", string(method.Name()))
	assert.Equal(t, "/billing.Billing/Charge", fullMethodName(method))

	// Fully qualified service names resolve too.
	method, err = reg.ResolveMethod(ctx, "billing", "v1", "billing.Billing.Charge")
	require.NoError(t, err)
	assert.Equal(t, "Charge", string(method.Name()))
}

func TestRegistry_UnknownMethod(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Register(ctx, "billing", "v1", billingDescriptorSet(t)))

	_, err := reg.ResolveMethod(ctx, "billing", "v1", "Billing.Refund")
	assert.ErrorIs(t, err, ErrMethodNotFound)
}

func TestRegistry_MissingDescriptorSet(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.ResolveMethod(context.Background(), "nothing", "v1", "Svc.Do")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestRegistry_MalformedDescriptorRejected(t *testing.T) {
	reg := newTestRegistry(t)

	err := reg.Register(context.Background(), "billing", "v1", []byte("not a descriptor"))
	assert.Error(t, err)
}

func TestRegistry_ReloadsFromStore(t *testing.T) {
	db, err := database.NewSQLiteDB("file:" + t.Name() + "?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	store := registry.NewStore(db)

	first := NewRegistry(store)
	require.NoError(t, first.Register(context.Background(), "billing", "v1", billingDescriptorSet(t)))

	// A fresh registry over the same store rebuilds from the persisted set.
	second := NewRegistry(store)
	method, err := second.ResolveMethod(context.Background(), "billing", "v1", "Billing.Charge")
	require.NoError(t, err)
	assert.Equal(t, "Charge", string(method.Name()))
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "host:50051", stripScheme("grpc://host:50051"))
	assert.Equal(t, "host:50051", stripScheme("http://host:50051"))
	assert.Equal(t, "host:50051", stripScheme("host:50051"))
}
