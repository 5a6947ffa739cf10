// Package syncapi is the gRPC client boundary KGSyncManager polls for
// external-scheduler deltas.
//
// spec.md explicitly places "any integration-specific wire format to
// external scheduler products" out of scope, so this is not a real IBM
// Workload Scheduler protocol client: it is a minimal, generic
// delta-fetch transport, using google.golang.org/protobuf's
// structpb.Struct as a schema-free message envelope in place of
// generated request/response types (no .proto compiler is available in
// this build environment). The client-wraps-a-ClientConn shape is
// grounded on cuemby-warren/pkg/client/client.go; the manual
// grpc.ServiceDesc registration on the generated-stub shape
// cuemby-warren/pkg/api/server.go's handlers are themselves called
// through.
package syncapi

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cuemby/workloadcore/pkg/types"
)

// FullMethod is the fully-qualified gRPC method this package's client
// and server speak.
const FullMethod = "/workloadcore.syncapi.v1.SchedulerSync/FetchChanges"

// serviceName is ServiceDesc's name, matching FullMethod's service
// segment.
const serviceName = "workloadcore.syncapi.v1.SchedulerSync"

// Client is a gRPC-backed prober of one external entity kind. It
// satisfies knowledge.EntityProber structurally (Kind/Probe) without
// importing pkg/knowledge, keeping the dependency direction from
// knowledge -> syncapi's caller, not the reverse.
type Client struct {
	conn *grpc.ClientConn
	kind string
}

// Dial opens a gRPC connection to target and returns a Client that
// probes the given entity kind.
func Dial(target, kind string, opts ...grpc.DialOption) (*Client, error) {
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("syncapi: dialing %s: %w", target, err)
	}
	return &Client{conn: conn, kind: kind}, nil
}

// NewClient wraps an already-established connection.
func NewClient(conn *grpc.ClientConn, kind string) *Client {
	return &Client{conn: conn, kind: kind}
}

// Kind returns the entity kind this client probes.
func (c *Client) Kind() string { return c.kind }

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }

// Probe fetches changes to Kind() observed since the watermark. A zero
// since means "everything currently known," matching
// KGSyncManager's first-run full-snapshot behavior.
func (c *Client) Probe(ctx context.Context, since time.Time) ([]types.SyncChange, error) {
	req, err := encodeRequest(c.kind, since)
	if err != nil {
		return nil, err
	}

	reply := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, FullMethod, req, reply); err != nil {
		return nil, fmt.Errorf("syncapi: fetch changes for %s: %w", c.kind, err)
	}
	return decodeChanges(reply)
}

func encodeRequest(kind string, since time.Time) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"entity_kind": kind,
		"since_unix":  float64(since.Unix()),
	})
}

func decodeChanges(reply *structpb.Struct) ([]types.SyncChange, error) {
	field, ok := reply.GetFields()["changes"]
	if !ok {
		return nil, nil
	}
	list := field.GetListValue()
	if list == nil {
		return nil, fmt.Errorf("syncapi: reply field %q is not a list", "changes")
	}

	changes := make([]types.SyncChange, 0, len(list.GetValues()))
	for _, v := range list.GetValues() {
		s := v.GetStructValue()
		if s == nil {
			continue
		}
		changes = append(changes, decodeChange(s))
	}
	return changes, nil
}

func decodeChange(s *structpb.Struct) types.SyncChange {
	fields := s.GetFields()
	change := types.SyncChange{
		ChangeType: types.SyncChangeType(stringField(fields, "change_type")),
		EntityKind: stringField(fields, "entity_kind"),
		EntityID:   stringField(fields, "entity_id"),
	}
	if ts, ok := fields["observed_at_unix"]; ok {
		change.ObservedAt = time.Unix(int64(ts.GetNumberValue()), 0)
	}
	if props, ok := fields["new_props"]; ok && props.GetStructValue() != nil {
		change.NewProps = props.GetStructValue().AsMap()
	}
	if props, ok := fields["old_props"]; ok && props.GetStructValue() != nil {
		change.OldProps = props.GetStructValue().AsMap()
	}
	return change
}

func stringField(fields map[string]*structpb.Value, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}

// encodeChange is the server-side counterpart of decodeChange, used by
// test doubles and any future real scheduler adapter to build a reply.
func encodeChange(c types.SyncChange) (*structpb.Value, error) {
	m := map[string]interface{}{
		"change_type":      string(c.ChangeType),
		"entity_kind":      c.EntityKind,
		"entity_id":        c.EntityID,
		"observed_at_unix": float64(c.ObservedAt.Unix()),
	}
	if c.NewProps != nil {
		m["new_props"] = c.NewProps
	}
	if c.OldProps != nil {
		m["old_props"] = c.OldProps
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, err
	}
	return structpb.NewStructValue(s), nil
}

// EncodeReply builds the reply envelope for a batch of changes. Exposed
// for server implementations (real or test doubles) that fulfill
// FullMethod.
func EncodeReply(changes []types.SyncChange) (*structpb.Struct, error) {
	values := make([]*structpb.Value, 0, len(changes))
	for _, c := range changes {
		v, err := encodeChange(c)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return &structpb.Struct{
		Fields: map[string]*structpb.Value{
			"changes": structpb.NewListValue(&structpb.ListValue{Values: values}),
		},
	}, nil
}
