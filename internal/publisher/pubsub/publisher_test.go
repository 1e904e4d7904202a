package pubsub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
)

func newTestClient(t *testing.T) (*pubsub.Client, *pstest.Server) {
	t.Helper()
	ctx := context.Background()

	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	conn, err := grpc.NewClient(srv.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client, err := pubsub.NewClient(ctx, "test-project", option.WithGRPCConn(conn))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = srv.GServer.CreateTopic(ctx, &pubsubpb.Topic{Name: "projects/test-project/topics/crawler-failures"})
	require.NoError(t, err)
	return client, srv
}

func TestPublishFailureNotice(t *testing.T) {
	t.Parallel()

	client, srv := newTestClient(t)
	pub := New(client)
	t.Cleanup(pub.Stop)

	notice := crawler.FailureNotice{
		JobID:    "job-1",
		Lane:     crawler.FetchLane,
		Key:      "ssd|http://prod/1",
		Error:    "unexpected status 503 for http://prod/1",
		FailedAt: time.Unix(1_700_000_000, 0).UTC(),
	}
	id, err := pub.Publish(context.Background(), "crawler-failures", notice)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "fetch", msgs[0].Attributes["lane"])
	require.Equal(t, "job-1", msgs[0].Attributes["job_id"])

	var got crawler.FailureNotice
	require.NoError(t, json.Unmarshal(msgs[0].Data, &got))
	require.Equal(t, notice, got)
}

func TestPublishValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil).Publish(context.Background(), "topic", "x")
	require.Error(t, err)

	client, _ := newTestClient(t)
	_, err = New(client).Publish(context.Background(), "", "x")
	require.Error(t, err)
}

func TestCarrierKeys(t *testing.T) {
	t.Parallel()

	c := &pubsubCarrier{attrs: map[string]string{}}
	c.Set("traceparent", "00-abc")
	require.Equal(t, "00-abc", c.Get("traceparent"))
	require.Equal(t, []string{"traceparent"}, c.Keys())
}
