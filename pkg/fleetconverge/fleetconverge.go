// Package fleetconverge provides the default Converger: a local fulfiller
// that treats the Server Cache as the fleet of record and reconciles it
// toward a group's desired capacity without placing any cloud API calls.
// The specification treats convergence's actual cloud decision function as
// an external collaborator with its own test suite; this is the in-process
// stand-in that satisfies the pkg/converge.Converger contract so the
// Convergence Dispatcher has something to drive in a deployment that has no
// real compute/LB backend wired in.
package fleetconverge

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/otterscale/autoscale/internal/clock"
	"github.com/otterscale/autoscale/internal/idgen"
	"github.com/otterscale/autoscale/pkg/autoscaleerrors"
	"github.com/otterscale/autoscale/pkg/group"
	"github.com/otterscale/autoscale/pkg/servercache"
)

// Fulfiller is pkg/converge's default Converger implementation.
type Fulfiller struct {
	cache *servercache.Store
	clk   clock.Clock
}

// NewFulfiller builds a Fulfiller backed by cache.
func NewFulfiller(cache *servercache.Store, clk clock.Clock) *Fulfiller {
	if clk == nil {
		clk = clock.System{}
	}
	return &Fulfiller{cache: cache, clk: clk}
}

// Converge is a two-phase launch, mirroring how a real cloud build works:
// a job spends one convergence pass as pending (the launch is "in flight")
// before it is promoted to active on the next pass. Concretely: every job
// still pending from a prior pass is promoted to active (its launch has now
// completed); active servers beyond st.Desired are terminated; and any
// remaining gap between active+pending and st.Desired is closed by enqueuing
// new pending jobs rather than activating servers outright. The resulting
// active fleet is then written back to the Server Cache — pending jobs are
// not yet real servers, so they are not written to the cache until promoted.
// It never returns a non-nil errors slice: the cache has no notion of
// "cloud rejected this request", so there is nothing here to surface as an
// ErrorReason.
func (f *Fulfiller) Converge(ctx context.Context, tenantID, groupID uuid.UUID, st *group.State) (*group.State, []autoscaleerrors.ErrorReason, error) {
	now := f.clk.Now()

	for jobID := range st.Pending {
		if err := st.RemoveJob(jobID); err != nil {
			return nil, nil, fmt.Errorf("fleetconverge: promoting job %s: %w", jobID, err)
		}
		if err := st.AddActive(jobID, nil); err != nil {
			return nil, nil, fmt.Errorf("fleetconverge: activating server %s: %w", jobID, err)
		}
	}

	for serverID := range st.Active {
		if len(st.Active) <= st.Desired {
			break
		}
		if err := st.RemoveActive(serverID); err != nil {
			return nil, nil, fmt.Errorf("fleetconverge: terminating server %s: %w", serverID, err)
		}
	}

	for len(st.Active)+len(st.Pending) < st.Desired {
		id := idgen.NewID().String()
		if err := st.AddJob(id); err != nil {
			return nil, nil, fmt.Errorf("fleetconverge: enqueuing job %s: %w", id, err)
		}
	}

	servers := make([]servercache.Server, 0, len(st.Active))
	for id := range st.Active {
		servers = append(servers, servercache.Server{ID: id, IsActive: true})
	}
	if err := f.cache.UpdateServers(ctx, groupID, now, servers); err != nil {
		return nil, nil, fmt.Errorf("fleetconverge: updating server cache: %w", err)
	}

	return st, nil, nil
}
