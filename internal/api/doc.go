// Package api implements the HTTP REST API and WebSocket server for the
// RX1 bridge.
//
// This package provides:
//   - Read endpoints for variables, services, server statistics and status
//   - Command and condition endpoints backed by the command dispatcher
//   - Watched feedback management
//   - WebSocket hub relaying registry events to subscribed clients
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// The API sits beside the MQTT bridge as a second host surface. Both read
// the same snapshot and variable registry and run commands through the
// same dispatcher, so a command issued over HTTP behaves exactly like one
// received on rx1bridge/command/{bridge}/{kind}.
//
// # Graceful Degradation
//
// The server operates without MQTT, a database or an audit trail. Missing
// collaborators only disable the endpoints that need them.
package api
