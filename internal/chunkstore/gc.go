package chunkstore

import (
	"context"
	"time"

	"github.com/buckyos/ndncore/internal/chunkid"
)

// RetentionPolicy decides whether a Disabled chunk's bytes should be
// purged (moved to StateNotExist). Adapted from the teacher's
// internal/tiering.Policy/Condition/Action, replacing "hot/warm/cold
// tier" semantics with the store's "keep/purge" GC semantics against
// spec §4.2's chunk state machine: tiering never applied to a bare
// content hash that has no admin states, whereas GC here only ever
// acts on chunks an operator has already moved to Disabled.
type RetentionPolicy struct {
	// Name identifies the policy for logging and reporting.
	Name string
	// MinDisabledAge is how long a chunk must have sat in StateDisabled
	// before it becomes eligible for purge.
	MinDisabledAge time.Duration
}

// RetentionDecision is the result of evaluating a policy against one
// chunk item.
type RetentionDecision struct {
	ChunkId   string
	Policy    string
	ShouldAct bool
	Reason    string
}

// RetentionResult summarizes one GC sweep, mirroring the shape of the
// teacher's tiering.RunResult.
type RetentionResult struct {
	StartTime       time.Time
	EndTime         time.Time
	ChunksEvaluated int
	ChunksPurged    int
	Errors          []string
}

// RetentionController runs RetentionPolicy sweeps over a Store's
// Disabled chunks.
type RetentionController struct {
	store    *Store
	policies []RetentionPolicy
}

// NewRetentionController returns a controller with no policies
// configured; callers add policies with AddPolicy.
func NewRetentionController(store *Store) *RetentionController {
	return &RetentionController{store: store}
}

// AddPolicy registers a retention policy, evaluated in registration order.
func (c *RetentionController) AddPolicy(p RetentionPolicy) {
	c.policies = append(c.policies, p)
}

// Evaluate decides whether item (already known to be Disabled) should
// be purged under the controller's policies.
func (c *RetentionController) Evaluate(item *ChunkItem) RetentionDecision {
	for _, p := range c.policies {
		if time.Since(item.UpdateTime) >= p.MinDisabledAge {
			return RetentionDecision{
				ChunkId: item.ChunkId, Policy: p.Name, ShouldAct: true,
				Reason: "disabled longer than " + p.MinDisabledAge.String(),
			}
		}
	}
	return RetentionDecision{ChunkId: item.ChunkId, ShouldAct: false, Reason: "no policy matched"}
}

// RunOnce evaluates every Disabled chunk once and purges the ones that
// match a policy.
func (c *RetentionController) RunOnce(ctx context.Context) (*RetentionResult, error) {
	result := &RetentionResult{StartTime: time.Now().UTC()}

	disabled, err := c.store.db.listByState(ctx, StateDisabled)
	if err != nil {
		result.EndTime = time.Now().UTC()
		return result, err
	}

	for _, item := range disabled {
		result.ChunksEvaluated++
		decision := c.Evaluate(item)
		if !decision.ShouldAct {
			continue
		}

		id, parseErr := chunkid.Parse(item.ChunkId)
		if parseErr != nil {
			result.Errors = append(result.Errors, parseErr.Error())
			continue
		}
		if err := c.store.SetState(ctx, id, StateNotExist); err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.ChunksPurged++
	}

	result.EndTime = time.Now().UTC()
	return result, nil
}
