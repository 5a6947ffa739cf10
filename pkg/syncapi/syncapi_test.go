package syncapi

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cuemby/workloadcore/pkg/types"
)

const bufSize = 1024 * 1024

type fixtureHandler struct {
	changes []types.SyncChange
	lastKind string
}

func (f *fixtureHandler) FetchChanges(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f.lastKind = req.GetFields()["entity_kind"].GetStringValue()
	return EncodeReply(f.changes)
}

func startTestServer(t *testing.T, h Handler) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	srv := grpc.NewServer()
	RegisterHandler(srv, h)

	go func() {
		_ = srv.Serve(lis)
	}()
	t.Cleanup(srv.Stop)

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}
	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestClientProbeRoundTripsChangesOverGRPC(t *testing.T) {
	fixture := &fixtureHandler{changes: []types.SyncChange{
		{ChangeType: types.SyncCreate, EntityKind: "job", EntityID: "BATCH_A", NewProps: map[string]interface{}{"owner": "ops"}},
	}}
	conn := startTestServer(t, fixture)
	client := NewClient(conn, "job")

	changes, err := client.Probe(context.Background(), time.Time{})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "BATCH_A", changes[0].EntityID)
	assert.Equal(t, types.SyncCreate, changes[0].ChangeType)
	assert.Equal(t, "ops", changes[0].NewProps["owner"])
	assert.Equal(t, "job", fixture.lastKind)
}

func TestClientProbeWithNoChangesReturnsEmpty(t *testing.T) {
	fixture := &fixtureHandler{}
	conn := startTestServer(t, fixture)
	client := NewClient(conn, "workstation")

	changes, err := client.Probe(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestKindReturnsConfiguredEntityKind(t *testing.T) {
	client := NewClient(nil, "resource")
	assert.Equal(t, "resource", client.Kind())
}

func TestDecodeChangeHandlesMissingOptionalFields(t *testing.T) {
	s, err := structpb.NewStruct(map[string]interface{}{
		"change_type": "delete",
		"entity_kind": "job",
		"entity_id":   "BATCH_B",
	})
	require.NoError(t, err)

	change := decodeChange(s)
	assert.Equal(t, types.SyncDelete, change.ChangeType)
	assert.Nil(t, change.NewProps)
	assert.Nil(t, change.OldProps)
}
