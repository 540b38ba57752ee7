package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/realtime-jobs-crawler/internal/crawler"
)

func fakeServerOptions(t *testing.T) []option.ClientOption {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return []option.ClientOption{option.WithGRPCConn(conn)}
}

func TestPublisher_PublishSummary(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	opts := fakeServerOptions(t)

	admin, err := pubsub.NewClient(ctx, "project-id", opts...)
	require.NoError(t, err)
	defer func() { _ = admin.Close() }()
	topic, err := admin.CreateTopic(ctx, "crawl-passes")
	require.NoError(t, err)
	sub, err := admin.CreateSubscription(ctx, "crawl-passes-sub", pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)

	pub, err := New(ctx, "project-id", "crawl-passes", opts...)
	require.NoError(t, err)
	defer func() { _ = pub.Close() }()

	id, err := pub.Publish(ctx, crawler.PassSummary{RunID: "run-1", Keyword: "校招"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got := make(chan *pubsub.Message, 1)
	recvCtx, stop := context.WithCancel(ctx)
	go func() {
		_ = sub.Receive(recvCtx, func(_ context.Context, msg *pubsub.Message) {
			msg.Ack()
			select {
			case got <- msg:
			default:
			}
			stop()
		})
	}()

	select {
	case msg := <-got:
		require.Equal(t, "run-1", msg.Attributes["run_id"])
		var summary crawler.PassSummary
		require.NoError(t, json.Unmarshal(msg.Data, &summary))
		require.Equal(t, "校招", summary.Keyword)
	case <-ctx.Done():
		t.Fatal("message was not delivered")
	}
}

func TestNew_MissingTopic(t *testing.T) {
	ctx := context.Background()
	_, err := New(ctx, "project-id", "absent", fakeServerOptions(t)...)
	require.ErrorContains(t, err, "does not exist")

	_, err = New(ctx, "", "topic")
	require.Error(t, err)
}

func TestPublisher_NotConfigured(t *testing.T) {
	t.Parallel()

	var pub *Publisher
	_, err := pub.Publish(context.Background(), "x")
	require.Error(t, err)
	require.NoError(t, pub.Close())
}
