// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package registry

import (
	"context"
	"math/rand"
)

// SelectInstance filters name's instances to the Healthy set and picks one
// according to strategy. Returns NoHealthyInstanceError if the healthy set
// is empty.
func (r *Registry) SelectInstance(ctx context.Context, name string, strategy Strategy) (*Instance, error) {
	all, err := r.GetServiceInstances(ctx, name)
	if err != nil {
		return nil, err
	}

	healthy := make([]*Instance, 0, len(all))
	for _, inst := range all {
		if inst.Health == HealthHealthy {
			healthy = append(healthy, inst)
		}
	}
	if len(healthy) == 0 {
		return nil, &NoHealthyInstanceError{Name: name}
	}

	switch strategy {
	case StrategyRoundRobin:
		return r.selectRoundRobin(name, healthy), nil
	case StrategyLeastConnections:
		return selectLeastConnections(healthy), nil
	case StrategyRandom:
		return healthy[rand.Intn(len(healthy))], nil
	case StrategyResponseTime:
		return selectResponseTime(healthy), nil
	case StrategyWeightedRoundRobin:
		return selectWeighted(healthy), nil
	default:
		return r.selectRoundRobin(name, healthy), nil
	}
}

// selectRoundRobin picks healthy[counter % len(healthy)] using a
// per-name monotonic counter, stable across concurrent callers via atomic
// increment.
func (r *Registry) selectRoundRobin(name string, healthy []*Instance) *Instance {
	counter := r.roundRobinCounter(name)
	n := counter.Add(1)
	idx := int(n-1) % len(healthy)
	return healthy[idx]
}

// selectLeastConnections picks the instance with the fewest
// active_connections; ties break by first in definition (slice) order.
func selectLeastConnections(healthy []*Instance) *Instance {
	best := healthy[0]
	for _, inst := range healthy[1:] {
		if inst.ActiveConnections < best.ActiveConnections {
			best = inst
		}
	}
	return best
}

// selectResponseTime picks the instance with the lowest
// avg_response_time_ms; NaN values are treated as equal to any other
// value they're compared against, so the first NaN encountered simply
// isn't displaced by a later NaN.
func selectResponseTime(healthy []*Instance) *Instance {
	best := healthy[0]
	for _, inst := range healthy[1:] {
		if inst.AvgResponseTimeMs < best.AvgResponseTimeMs {
			best = inst
		}
	}
	return best
}

// selectWeighted picks the instance minimizing cpu% + memory%.
func selectWeighted(healthy []*Instance) *Instance {
	best := healthy[0]
	bestScore := best.CPUPercent + best.MemoryPercent
	for _, inst := range healthy[1:] {
		score := inst.CPUPercent + inst.MemoryPercent
		if score < bestScore {
			best = inst
			bestScore = score
		}
	}
	return best
}
