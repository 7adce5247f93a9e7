package queueindex

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// EntityKind names the kind of entity counter IncRunningEntity/
// DecRunningEntity maintains.
type EntityKind string

const (
	EntityPlan       EntityKind = "plan"
	EntityMetadata   EntityKind = "metadata"
	EntityCollection EntityKind = "collection"
)

// PushPending appends token to the FIFO tail of queue's pending list.
func (ix *Index) PushPending(ctx context.Context, queue, token string) error {
	if err := ix.client.RPush(ctx, pendingKey(queue), token).Err(); err != nil {
		return err
	}
	return ix.client.Incr(ctx, counterEnqueued).Err()
}

// CancelPending removes every occurrence of token from queue's pending list.
func (ix *Index) CancelPending(ctx context.Context, queue, token string) error {
	return ix.client.LRem(ctx, pendingKey(queue), 0, token).Err()
}

// MarkRunning inserts token into the running sorted-set with score expiry
// (unix seconds).
func (ix *Index) MarkRunning(ctx context.Context, queue, token string, expiry time.Time) error {
	return ix.client.ZAdd(ctx, runningJobKey(queue), redis.Z{
		Score:  float64(expiry.Unix()),
		Member: token,
	}).Err()
}

// RemoveRunning removes token from the running sorted-set.
func (ix *Index) RemoveRunning(ctx context.Context, queue, token string) error {
	return ix.client.ZRem(ctx, runningJobKey(queue), token).Err()
}

// Heartbeat refreshes token's lease-expiry score in the running set.
func (ix *Index) Heartbeat(ctx context.Context, queue, token string, expiry time.Time) error {
	return ix.MarkRunning(ctx, queue, token, expiry)
}

// IncRunningEntity increments the advisory running counter for kind/id.
func (ix *Index) IncRunningEntity(ctx context.Context, kind EntityKind, id string) error {
	return ix.client.Incr(ctx, entityKey(kind, id)).Err()
}

// DecRunningEntity decrements the advisory running counter for kind/id.
func (ix *Index) DecRunningEntity(ctx context.Context, kind EntityKind, id string) error {
	return ix.client.Decr(ctx, entityKey(kind, id)).Err()
}

// MetadataRunningCount returns the advisory running-plan count for a
// metadata id, supplementing spec §4.2 per original_source's
// get_metadata_count query.
func (ix *Index) MetadataRunningCount(ctx context.Context, id string) (int64, error) {
	return ix.client.Get(ctx, runningMetadataKey(id)).Int64()
}

// CollectionRunningCount returns the advisory running-plan count for a
// collection id, supplementing spec §4.2 per original_source's
// get_collection_count query.
func (ix *Index) CollectionRunningCount(ctx context.Context, id string) (int64, error) {
	return ix.client.Get(ctx, runningCollectionKey(id)).Int64()
}

func entityKey(kind EntityKind, id string) string {
	switch kind {
	case EntityPlan:
		return "queue::running::plan::" + id
	case EntityMetadata:
		return runningMetadataKey(id)
	case EntityCollection:
		return runningCollectionKey(id)
	default:
		return "queue::running::" + string(kind) + "::" + id
	}
}

// dequeueScript pops the head of pending, inserts it into running with
// score now+leaseSecs, and increments the dequeued counter — one atomic
// step so partial failure cannot leave a token on neither list (spec §4.2).
var dequeueScript = redis.NewScript(`
local pending = KEYS[1]
local running = KEYS[2]
local counter = KEYS[3]
local now = tonumber(ARGV[1])
local lease = tonumber(ARGV[2])

local token = redis.call('LPOP', pending)
if not token then
	return false
end

redis.call('ZADD', running, now + lease, token)
redis.call('INCR', counter)
return token
`)

// Dequeue atomically pops the head of queue's pending list into running,
// returning the token and true, or "" and false if pending was empty.
func (ix *Index) Dequeue(ctx context.Context, queue string, now time.Time, leaseSecs int) (string, bool, error) {
	res, err := dequeueScript.Run(ctx, ix.client,
		[]string{pendingKey(queue), runningJobKey(queue), counterDequeued},
		now.Unix(), leaseSecs,
	).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	token, ok := res.(string)
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// sweepScript moves every running-token with score <= now back to the head
// of pending, incrementing the expired counter once per token (spec §4.2,
// mirrors original_source's check_for_expiration).
var sweepScript = redis.NewScript(`
local running = KEYS[1]
local pending = KEYS[2]
local counter = KEYS[3]
local now = tonumber(ARGV[1])

local expired = redis.call('ZRANGEBYSCORE', running, '-inf', now)
for i, token in ipairs(expired) do
	redis.call('ZREM', running, token)
	redis.call('LPUSH', pending, token)
	redis.call('INCR', counter)
end
return #expired
`)

// SweepExpired moves every running-token in queue with lease-expiry <= now
// back to the head of pending, returning the count moved.
func (ix *Index) SweepExpired(ctx context.Context, queue string, now time.Time) (int, error) {
	res, err := sweepScript.Run(ctx, ix.client,
		[]string{runningJobKey(queue), pendingKey(queue), counterExpired},
		now.Unix(),
	).Result()
	if err != nil {
		return 0, err
	}
	count, _ := res.(int64)
	return int(count), nil
}

// IncrEnqueuedChild increments the child-enqueue counter, per
// original_source's enqueue_job_child_workflows bookkeeping.
func (ix *Index) IncrEnqueuedChild(ctx context.Context) error {
	return ix.client.Incr(ctx, counterEnqueuedChild).Err()
}

// IncrJobFailed increments the job-failed counter.
func (ix *Index) IncrJobFailed(ctx context.Context) error { return ix.client.Incr(ctx, counterJobFailed).Err() }

// IncrJobComplete increments the job-complete counter.
func (ix *Index) IncrJobComplete(ctx context.Context) error {
	return ix.client.Incr(ctx, counterJobComplete).Err()
}

// IncrJobDelayed increments the job-delayed counter.
func (ix *Index) IncrJobDelayed(ctx context.Context) error { return ix.client.Incr(ctx, counterJobDelayed).Err() }

// IncrContextSet increments the plan-context-set counter.
func (ix *Index) IncrContextSet(ctx context.Context) error { return ix.client.Incr(ctx, counterContextSet).Err() }

// IncrJobContextSet increments the job-context-set counter.
func (ix *Index) IncrJobContextSet(ctx context.Context) error {
	return ix.client.Incr(ctx, counterJobContextSet).Err()
}
