package queueindex

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowmint/planengine/internal/domain"
)

func newTestIndex(t *testing.T) (*Index, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return NewWithClient(client), s
}

func TestJobTokenRoundTrip(t *testing.T) {
	id := domain.JobID{Queue: "ingest", PlanID: uuid.New(), Index: 3}
	token := JobToken(id)
	assert.Contains(t, token, "queue::job::ingest::")

	parsed, err := ParseJobToken(token)
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseJobToken_Malformed(t *testing.T) {
	_, err := ParseJobToken("not-a-token")
	assert.Error(t, err)

	_, err = ParseJobToken(PlanToken("q", uuid.New()))
	assert.Error(t, err)
}

func TestPushPending_CancelPending(t *testing.T) {
	ix, s := newTestIndex(t)
	defer s.Close()
	ctx := context.Background()

	token := JobToken(domain.JobID{Queue: "q", PlanID: uuid.New(), Index: 0})
	require.NoError(t, ix.PushPending(ctx, "q", token))

	members, err := s.List(pendingKey("q"))
	require.NoError(t, err)
	assert.Equal(t, []string{token}, members)

	require.NoError(t, ix.CancelPending(ctx, "q", token))
	members, err = s.List(pendingKey("q"))
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestDequeue_MovesTokenToRunning(t *testing.T) {
	ix, s := newTestIndex(t)
	defer s.Close()
	ctx := context.Background()

	token := JobToken(domain.JobID{Queue: "q", PlanID: uuid.New(), Index: 0})
	require.NoError(t, ix.PushPending(ctx, "q", token))

	now := time.Now()
	got, ok, err := ix.Dequeue(ctx, "q", now, 1800)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, token, got)

	pending, _ := s.List(pendingKey("q"))
	assert.Empty(t, pending)

	score, err := s.ZScore(runningJobKey("q"), token)
	require.NoError(t, err)
	assert.InDelta(t, float64(now.Unix()+1800), score, 1)
}

func TestDequeue_EmptyReturnsFalse(t *testing.T) {
	ix, s := newTestIndex(t)
	defer s.Close()

	_, ok, err := ix.Dequeue(context.Background(), "empty-queue", time.Now(), 1800)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSweepExpired_MovesExpiredTokensBack(t *testing.T) {
	ix, s := newTestIndex(t)
	defer s.Close()
	ctx := context.Background()

	expiredToken := JobToken(domain.JobID{Queue: "q", PlanID: uuid.New(), Index: 0})
	freshToken := JobToken(domain.JobID{Queue: "q", PlanID: uuid.New(), Index: 1})

	past := time.Now().Add(-1 * time.Hour)
	future := time.Now().Add(1 * time.Hour)
	require.NoError(t, ix.MarkRunning(ctx, "q", expiredToken, past))
	require.NoError(t, ix.MarkRunning(ctx, "q", freshToken, future))

	count, err := ix.SweepExpired(ctx, "q", time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	pending, _ := s.List(pendingKey("q"))
	assert.Equal(t, []string{expiredToken}, pending)

	stillRunning, err := s.ZMembers(runningJobKey("q"))
	require.NoError(t, err)
	assert.Equal(t, []string{freshToken}, stillRunning)
}

func TestHeartbeat_RefreshesScore(t *testing.T) {
	ix, s := newTestIndex(t)
	defer s.Close()
	ctx := context.Background()

	token := JobToken(domain.JobID{Queue: "q", PlanID: uuid.New(), Index: 0})
	require.NoError(t, ix.MarkRunning(ctx, "q", token, time.Now()))

	later := time.Now().Add(30 * time.Minute)
	require.NoError(t, ix.Heartbeat(ctx, "q", token, later))

	score, err := s.ZScore(runningJobKey("q"), token)
	require.NoError(t, err)
	assert.InDelta(t, float64(later.Unix()), score, 1)
}

func TestEntityCounters(t *testing.T) {
	ix, s := newTestIndex(t)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, ix.IncRunningEntity(ctx, EntityMetadata, "m1"))
	require.NoError(t, ix.IncRunningEntity(ctx, EntityMetadata, "m1"))

	count, err := ix.MetadataRunningCount(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	require.NoError(t, ix.DecRunningEntity(ctx, EntityMetadata, "m1"))
	count, err = ix.MetadataRunningCount(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
