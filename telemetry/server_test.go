package telemetry

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

func newTestClient(t *testing.T, pub *Publisher) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	NewServer(pub).Register(srv)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func recvOne(t *testing.T, ch <-chan *structpb.Struct) *structpb.Struct {
	t.Helper()
	select {
	case msg := <-ch:
		require.NotNil(t, msg)
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func waitForSubscriber(t *testing.T, pub *Publisher) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for pub.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never attached")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWatchRunsStreamsLifecycleEvents(t *testing.T) {
	pub := NewPublisher()
	conn := newTestClient(t, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := WatchRuns(ctx, conn, "")
	require.NoError(t, err)
	waitForSubscriber(t, pub)

	pub.RunStarted("run-1", 3)
	pub.NodeCompleted("run-1", "raytrace")
	pub.RunFinished("run-1", nil)

	started := recvOne(t, events)
	assert.Equal(t, KindRunStarted, started.GetFields()["kind"].GetStringValue())
	assert.Equal(t, "run-1", started.GetFields()["run_id"].GetStringValue())
	assert.Equal(t, float64(3), started.GetFields()["node_count"].GetNumberValue())

	node := recvOne(t, events)
	assert.Equal(t, KindNodeCompleted, node.GetFields()["kind"].GetStringValue())
	assert.Equal(t, "raytrace", node.GetFields()["node"].GetStringValue())

	finished := recvOne(t, events)
	assert.Equal(t, KindRunFinished, finished.GetFields()["kind"].GetStringValue())
	assert.Equal(t, "", finished.GetFields()["error"].GetStringValue())
}

func TestWatchRunsFiltersByRunID(t *testing.T) {
	pub := NewPublisher()
	conn := newTestClient(t, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := WatchRuns(ctx, conn, "run-b")
	require.NoError(t, err)
	waitForSubscriber(t, pub)

	pub.RunStarted("run-a", 1)
	pub.RunStarted("run-b", 2)

	got := recvOne(t, events)
	assert.Equal(t, "run-b", got.GetFields()["run_id"].GetStringValue())
}

func TestRunFinishedCarriesErrorText(t *testing.T) {
	pub := NewPublisher()
	conn := newTestClient(t, pub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := WatchRuns(ctx, conn, "")
	require.NoError(t, err)
	waitForSubscriber(t, pub)

	pub.RunFinished("run-1", errors.New("device exploded"))

	got := recvOne(t, events)
	assert.Equal(t, "device exploded", got.GetFields()["error"].GetStringValue())
}

func TestUnsubscribeOnClientCancel(t *testing.T) {
	pub := NewPublisher()
	conn := newTestClient(t, pub)

	ctx, cancel := context.WithCancel(context.Background())
	_, err := WatchRuns(ctx, conn, "")
	require.NoError(t, err)
	waitForSubscriber(t, pub)

	cancel()
	deadline := time.Now().Add(5 * time.Second)
	for pub.SubscriberCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never detached after cancel")
		}
		time.Sleep(time.Millisecond)
	}
}
