package queueindex

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/flowmint/planengine/internal/domain"
)

// Key prefixes, grounded verbatim in original_source's queue.rs
// (QUEUE_PLAN_PREFIX / QUEUE_JOB_PREFIX and the pending/running key helpers).
const (
	jobTokenPrefix  = "queue::job"
	planTokenPrefix = "queue::plan"
)

// JobToken encodes a JobID as "queue::job::<queue>::<plan_id>::<index>".
func JobToken(id domain.JobID) string {
	return fmt.Sprintf("%s::%s::%s::%d", jobTokenPrefix, id.Queue, id.PlanID.String(), id.Index)
}

// PlanToken encodes a plan reference as "queue::plan::<queue>::<plan_id>".
func PlanToken(queue string, planID uuid.UUID) string {
	return fmt.Sprintf("%s::%s::%s", planTokenPrefix, queue, planID.String())
}

// ParseJobToken reverses JobToken, returning an error if the token is
// malformed or not a job token.
func ParseJobToken(token string) (domain.JobID, error) {
	parts := strings.Split(token, "::")
	if len(parts) != 5 || parts[0] != "queue" || parts[1] != "job" {
		return domain.JobID{}, fmt.Errorf("malformed job token: %q", token)
	}
	planID, err := uuid.Parse(parts[3])
	if err != nil {
		return domain.JobID{}, fmt.Errorf("malformed job token plan id: %w", err)
	}
	index, err := strconv.Atoi(parts[4])
	if err != nil {
		return domain.JobID{}, fmt.Errorf("malformed job token index: %w", err)
	}
	return domain.JobID{Queue: parts[2], PlanID: planID, Index: index}, nil
}

func pendingKey(queue string) string           { return "queue::pending::job::" + queue }
func runningJobKey(queue string) string         { return "queue::running::job::" + queue }
func runningPlanKey(queue string) string        { return "queue::running::plan::" + queue }
func runningMetadataKey(id string) string       { return "queue::running::metadata::" + id }
func runningCollectionKey(id string) string     { return "queue::running::collection::" + id }

// Counter keys, named after spec §6's persisted-state layout.
const (
	counterEnqueued      = "queue::enqueued::count"
	counterEnqueuedChild = "queue::enqueued::child::count"
	counterDequeued      = "queue::dequeued::count"
	counterExpired       = "queue::expired::count"
	counterJobFailed     = "queue::job::failed"
	counterJobComplete   = "queue::job::complete"
	counterJobDelayed    = "queue::job::delayed"
	counterContextSet    = "queue::context::set::count"
	counterJobContextSet = "queue::context::job::set::count"
)
