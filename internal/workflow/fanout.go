package workflow

import (
	"context"
	"fmt"
	"sync"

	"sceneflow/internal/jobs"
	"sceneflow/internal/logging"
	"sceneflow/internal/services"
)

// fanoutItem is one independent unit of a node's sibling fan-out. run does
// the item's work and persists its output; the fan-out owns the job handle.
type fanoutItem struct {
	id  string
	key string
	run func(ctx context.Context) error
}

// fanoutKey salts an item's dispatch key with the node's rerun counter, so a
// reopened node dispatches fresh item chains rather than re-reading the
// previous run's terminal rows.
func fanoutKey(id string, run int) string {
	if run > 0 {
		return fmt.Sprintf("%s-run%d", id, run)
	}
	return id
}

// runFanout dispatches sibling work through the control plane: every item
// gets its own job handle, so the concurrency ceiling and the backlog sweep
// apply per item. Items proceed in waves; dispatched ones run concurrently,
// held ones wait for a later wave, and failed ones re-chain until their
// retries are exhausted. The returned slice describes the items that never
// produced output.
func (o *Operator) runFanout(ctx context.Context, projectID, node string, jobType jobs.Type, items []fanoutItem) []string {
	var failures []string
	pending := items
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			for _, item := range pending {
				failures = append(failures, fmt.Sprintf("%s: %v", item.id, err))
			}
			return failures
		}

		batch := make([]jobs.BatchItem, 0, len(pending))
		byKey := make(map[string]fanoutItem, len(pending))
		for _, item := range pending {
			batch = append(batch, jobs.BatchItem{Key: item.key})
			byKey[item.key] = item
		}
		results := o.dispatcher.EnsureBatch(ctx, projectID, node, jobType, batch, jobs.EnsureOptions{MaxRetries: o.maxRetries})

		type dispatched struct {
			item fanoutItem
			job  *jobs.Job
		}
		var (
			mu       sync.Mutex
			next     []fanoutItem
			held     []fanoutItem
			heldJobs []*jobs.Job
			ready    []dispatched
			retried  bool
		)
		runItem := func(item fanoutItem, job *jobs.Job) {
			itemCtx := services.WithJobID(ctx, job.ID)
			if _, err := o.plane.UpdateJobState(itemCtx, job.ID, jobs.StateRunning, nil, ""); err != nil {
				mu.Lock()
				failures = append(failures, fmt.Sprintf("%s: %v", item.id, err))
				mu.Unlock()
				return
			}
			if runErr := item.run(itemCtx); runErr != nil {
				if _, err := o.plane.UpdateJobState(itemCtx, job.ID, jobs.StateFailed, nil, runErr.Error()); err != nil {
					o.logger.ErrorContext(itemCtx, "failed to record item failure",
						logging.String(logging.FieldJobID, job.ID),
						logging.Error(err),
					)
				}
				mu.Lock()
				next = append(next, item)
				retried = true
				mu.Unlock()
				return
			}
			if _, err := o.plane.UpdateJobState(itemCtx, job.ID, jobs.StateCompleted, nil, ""); err != nil {
				o.logger.ErrorContext(itemCtx, "failed to record item completion",
					logging.String(logging.FieldJobID, job.ID),
					logging.Error(err),
				)
			}
		}

		for _, res := range results {
			item := byKey[res.Key]
			switch {
			case res.Err != nil:
				failures = append(failures, fmt.Sprintf("%s: %v", item.id, res.Err))
			case res.Job.State == jobs.StateCompleted:
				// A prior run already produced this item.
			case res.Job.Terminal():
				failures = append(failures, fmt.Sprintf("%s: job %s exhausted retries: %s", item.id, res.Job.ID, res.Job.ErrorMessage))
			case res.Job.State == jobs.StateCreated:
				held = append(held, item)
				heldJobs = append(heldJobs, res.Job)
			default:
				ready = append(ready, dispatched{item: item, job: res.Job})
			}
		}

		var wg sync.WaitGroup
		for _, d := range ready {
			d := d
			wg.Add(1)
			go func() {
				defer wg.Done()
				runItem(d.item, d.job)
			}()
		}
		wg.Wait()

		if len(ready) == 0 && len(held) > 0 {
			// The coordinating node job occupies a slot of its own, so a
			// full ceiling can park every sibling. Force the oldest one
			// through rather than spin on the backlog.
			runItem(held[0], heldJobs[0])
			held = held[1:]
		}
		next = append(next, held...)
		if retried && o.retryBackoff > 0 {
			o.sleep(o.retryBackoff)
		}
		pending = next
	}
	return failures
}
