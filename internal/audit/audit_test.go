package audit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verdant/internal/audit"
	"verdant/internal/audit/store"
	id "verdant/pkg/domain"
)

func TestPublisherWorkerRoundTrip(t *testing.T) {
	sink := store.NewMemory()
	publisher := audit.NewPublisher()
	worker := audit.NewWorker(sink, publisher.Inbox(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = worker.Run(ctx)
	}()

	actorID := id.NewActorID()
	publisher.Publish(context.Background(), audit.ActionBatchMinted, actorID, "batch-1", "amount=100")
	publisher.Publish(context.Background(), audit.ActionCreditsRetired, actorID, "batch-1", "amount=40")

	require.Eventually(t, func() bool {
		recs, err := sink.ListBySubject(context.Background(), "batch-1")
		return err == nil && len(recs) == 2
	}, time.Second, 10*time.Millisecond)

	cancel()
	<-done

	recs, err := sink.ListByActor(context.Background(), actorID)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, audit.ActionBatchMinted, recs[0].Action)
	assert.False(t, recs[0].Timestamp.IsZero())
}

func TestWorkerDrainsBufferOnShutdown(t *testing.T) {
	sink := store.NewMemory()
	publisher := audit.NewPublisher(audit.WithBufferSize(8))

	// Enqueue before the worker starts so everything sits in the buffer.
	for i := 0; i < 5; i++ {
		publisher.Publish(context.Background(), audit.ActionReviewStarted, id.NewActorID(), "cert-1", "")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	worker := audit.NewWorker(sink, publisher.Inbox(), nil)
	require.ErrorIs(t, worker.Run(ctx), context.Canceled)

	recs, err := sink.ListBySubject(context.Background(), "cert-1")
	require.NoError(t, err)
	assert.Len(t, recs, 5)
}

func TestServiceQueries(t *testing.T) {
	sink := store.NewMemory()
	svc := audit.NewService(sink)

	actorID := id.NewActorID()
	require.NoError(t, sink.Append(context.Background(), audit.Record{
		Timestamp: time.Now(), ActorID: actorID,
		Action: audit.ActionCertificateSubmitted, Subject: "cert-9",
	}))

	recs, err := svc.BySubject(context.Background(), "cert-9")
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	recs, err = svc.ByActor(context.Background(), actorID)
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	recs, err = svc.BySubject(context.Background(), "missing")
	require.NoError(t, err)
	assert.Empty(t, recs)
}
