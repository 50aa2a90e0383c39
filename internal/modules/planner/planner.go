// README: Cheapest feasible pickup/dropoff insertion for one driver.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"dispatch/internal/metrics"
	"dispatch/internal/modules/route"
	"dispatch/internal/types"
)

var errLate = errors.New("finishes outside shift")

type Planner struct {
	oracle TravelTimer
	clock  types.Clock
	cfg    Config
}

func New(oracle TravelTimer, clock types.Clock, cfg Config) *Planner {
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &Planner{oracle: oracle, clock: clock, cfg: cfg.withDefaults()}
}

func (p *Planner) Now() time.Time { return p.clock.Now() }

func (p *Planner) ServiceTime() time.Duration { return p.cfg.ServiceTime }

// Plan tries every pickup position i in [0, N] and dropoff position j in
// [i+1, N+1] of the post-pickup array, and returns the cheapest feasible
// insertion. Ties keep the first candidate in (i, j) order. A nil plan with a
// nil error means the driver cannot take the order.
func (p *Planner) Plan(ctx context.Context, c Candidate, idx route.Index) (*Plan, error) {
	d := c.Driver.WithDefaults()
	now := p.clock.Now()
	shiftStart, shiftEnd := d.Shift.Window(now)
	oldFinish := d.Route.FinishTime(now)

	lookup := func(id int64) (route.Job, bool) {
		if id == c.OrderID {
			return c.Job(), true
		}
		j, ok := idx[id]
		return j, ok
	}

	base := d.Route.Nodes
	for _, n := range base {
		if _, ok := lookup(n.OrderID); !ok {
			metrics.PlannerCandidates.WithLabelValues("unknown_order").Inc()
			log.Printf("planner: driver=%d route references unknown order=%d", d.ID, n.OrderID)
			return nil, nil
		}
	}

	var best *Plan
	N := len(base)
	for i := 0; i <= N; i++ {
		for j := i + 1; j <= N+1; j++ {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			nodes := route.InsertPair(base, i, j, c.OrderID)
			sim, err := p.simulate(ctx, d.Location, now, nodes, lookup, d.MaxWeight, true)
			if err == nil {
				finish := sim.Times[len(sim.Times)-1]
				if finish.Before(shiftStart) || finish.After(shiftEnd) {
					err = fmt.Errorf("%w: %s", errLate, finish.Format(time.Kitchen))
				}
			}
			if err != nil {
				metrics.PlannerCandidates.WithLabelValues(verdict(err)).Inc()
				p.trace("driver=%d order=%d P@%d D@%d skipped: %v", d.ID, c.OrderID, i, j, err)
				continue
			}

			finish := sim.Times[len(sim.Times)-1]
			penalty := float64(finish.Sub(oldFinish)) / float64(time.Millisecond)
			cost := penalty - p.cfg.RatingBonusMs*d.AvgRating
			metrics.PlannerCandidates.WithLabelValues("valid").Inc()
			p.trace("driver=%d order=%d P@%d D@%d penalty_min=%.1f cost=%.0f", d.ID, c.OrderID, i, j, penalty/60000, cost)

			if best == nil || cost < best.Cost {
				best = &Plan{
					DriverID:     d.ID,
					PickupIndex:  i,
					DropoffIndex: j,
					Route: route.Route{
						Nodes:         nodes,
						CapacityTrace: sim.Capacity,
						TimeTrace:     sim.Times,
					},
					PenaltyMs: penalty,
					Cost:      cost,
				}
			}
		}
	}
	return best, nil
}

// Simulate recomputes arrival times along nodes starting at from/start,
// without capacity checks. It fails with route.ErrUnknownOrder when a node's
// order is missing from idx.
func (p *Planner) Simulate(ctx context.Context, from types.Point, start time.Time, nodes []route.Node, idx route.Index) ([]time.Time, error) {
	lookup := func(id int64) (route.Job, bool) {
		j, ok := idx[id]
		return j, ok
	}
	sim, err := p.simulate(ctx, from, start, nodes, lookup, 0, false)
	if err != nil {
		return nil, err
	}
	return sim.Times, nil
}

type simulation struct {
	Capacity []float64
	Times    []time.Time
}

// simulate walks nodes in order. With checkCapacity, free capacity starts at
// maxWeight less the load already on board, and a leg that would push it
// below zero is rejected before its travel time is looked up.
func (p *Planner) simulate(ctx context.Context, from types.Point, start time.Time, nodes []route.Node, lookup func(int64) (route.Job, bool), maxWeight float64, checkCapacity bool) (simulation, error) {
	sim := simulation{Times: make([]time.Time, 0, len(nodes))}
	free := maxWeight
	if checkCapacity {
		sim.Capacity = make([]float64, 0, len(nodes))
		free -= route.CarriedWeight(nodes, lookup)
	}
	at := start
	last := from
	for i, n := range nodes {
		job, ok := lookup(n.OrderID)
		if !ok {
			return simulation{}, fmt.Errorf("%w: %s at %d", route.ErrUnknownOrder, n, i)
		}
		if checkCapacity {
			if n.Kind == route.Pickup {
				free -= job.Weight
			} else {
				free += job.Weight
			}
			if free < 0 {
				return simulation{}, fmt.Errorf("%w: load %.1f/%.1f at %s", route.ErrOverCapacity, maxWeight-free, maxWeight, n)
			}
			sim.Capacity = append(sim.Capacity, free)
		}
		target := job.Location(n.Kind)
		secs := p.oracle.TravelTime(ctx, last, target)
		at = at.Add(time.Duration(secs)*time.Second + p.cfg.ServiceTime)
		sim.Times = append(sim.Times, at)
		last = target
	}
	return sim, nil
}

func verdict(err error) string {
	switch {
	case errors.Is(err, route.ErrOverCapacity):
		return "overcapacity"
	case errors.Is(err, route.ErrUnknownOrder):
		return "unknown_order"
	case errors.Is(err, errLate):
		return "late"
	default:
		return "invalid"
	}
}

func (p *Planner) trace(format string, args ...any) {
	if p.cfg.Trace {
		log.Printf("planner: "+format, args...)
	}
}
