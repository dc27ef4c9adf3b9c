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

// Package registry implements service instance registration, heartbeat
// health tracking, capability-based discovery, and load balancing.
package registry

import (
	"fmt"
	"time"
)

// Health is an instance's current health status.
type Health string

const (
	HealthUnknown   Health = "unknown"
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
)

// Config describes a service instance at registration time.
type Config struct {
	Name         string
	Endpoint     string
	Capabilities []string
}

// Instance is a registered, running service instance.
type Instance struct {
	ID           string
	Name         string
	Endpoint     string
	Capabilities []string
	Metadata     map[string]string

	Health Health

	RegisteredAt time.Time
	LastSeen     time.Time

	// ActiveConnections and AvgResponseTimeMs feed the LeastConnections and
	// ResponseTime load-balancing strategies; CPUPercent/MemoryPercent feed
	// WeightedRoundRobin. Callers update these via UpdateLoad.
	ActiveConnections int
	AvgResponseTimeMs  float64
	CPUPercent         float64
	MemoryPercent      float64
}

// HasCapability reports whether the instance advertises cap.
func (i *Instance) HasCapability(cap string) bool {
	for _, c := range i.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Strategy selects one instance from a healthy candidate set.
type Strategy string

const (
	StrategyRoundRobin         Strategy = "round_robin"
	StrategyLeastConnections   Strategy = "least_connections"
	StrategyRandom             Strategy = "random"
	StrategyResponseTime       Strategy = "response_time"
	StrategyWeightedRoundRobin Strategy = "weighted_round_robin"
)

// NoHealthyInstanceError is returned by SelectInstance when no Healthy
// instance of the requested service exists.
type NoHealthyInstanceError struct {
	Name string
}

func (e *NoHealthyInstanceError) Error() string {
	return fmt.Sprintf("no healthy instance available for service %q", e.Name)
}

// NotFoundError is returned when an instance id is not registered.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("service instance %q not found", e.ID)
}

// DuplicateNameError is returned by Register when Name+Endpoint is already
// registered under a different instance id.
type DuplicateNameError struct {
	Name     string
	Endpoint string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("service %q already registered at endpoint %q", e.Name, e.Endpoint)
}
