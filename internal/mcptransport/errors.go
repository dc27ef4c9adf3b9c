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

package mcptransport

import (
	"fmt"

	conductorerrors "github.com/relaywork/relay/pkg/errors"
)

// ConnectionError reports that establishing or maintaining a connection
// failed. Retryable — the caller's reconnect/restart loop is expected to
// handle this class of error.
type ConnectionError struct {
	Message       string
	Endpoint      string
	TransportType string
	RetryCount    int
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error to %s via %s: %s (retry %d)", e.Endpoint, e.TransportType, e.Message, e.RetryCount)
}

// AsDomainError classifies the connection error into the shared taxonomy.
func (e *ConnectionError) AsDomainError() *conductorerrors.DomainError {
	return conductorerrors.NewTransient(conductorerrors.KindMCPConnection, e.Error(), e)
}

// ProtocolError reports a violation of the expected message framing or
// JSON-RPC shape. Not retryable — the peer needs to send something
// different, not the same thing again.
type ProtocolError struct {
	Message   string
	Operation string
	Expected  string
	Received  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error during %s: %s (expected %s, received %s)", e.Operation, e.Message, e.Expected, e.Received)
}

// AsDomainError classifies the protocol error into the shared taxonomy.
func (e *ProtocolError) AsDomainError() *conductorerrors.DomainError {
	return conductorerrors.NewPermanent(conductorerrors.KindMCPProtocol, e.Error(), e)
}

// TransportIOError wraps a lower-level I/O or serialization failure
// encountered while moving bytes across the wire.
type TransportIOError struct {
	Message   string
	Operation string
	Cause     error
}

func (e *TransportIOError) Error() string {
	return fmt.Sprintf("i/o error during %s: %s", e.Operation, e.Message)
}

func (e *TransportIOError) Unwrap() error {
	return e.Cause
}

// AsDomainError classifies the I/O error into the shared taxonomy.
func (e *TransportIOError) AsDomainError() *conductorerrors.DomainError {
	return conductorerrors.NewTransient(conductorerrors.KindMCPTransport, e.Error(), e.Cause)
}
