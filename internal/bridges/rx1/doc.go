// Package rx1 is the MQTT surface of the receiver bridge.
//
// It translates between the MQTT bus and the bridge internals:
//
//	┌──────────────┐   MQTT   ┌──────────────┐   HTTP   ┌──────────┐
//	│  Controller  │◄────────►│  RX1 Bridge  │◄────────►│ Receiver │
//	└──────────────┘          └──────────────┘          └──────────┘
//
// # Topics
//
// Inbound:
//
//	rx1bridge/command/{bridge}/{kind}        run a command, ack on rx1bridge/ack/{bridge}/{kind}
//	rx1bridge/request/{bridge}/{request_id}  request/response, answered on rx1bridge/response/...
//
// Outbound (retained):
//
//	rx1bridge/variable/{bridge}/{field}  one message per changed field value
//	rx1bridge/feedback/{bridge}/{id}     watched feedback results
//	rx1bridge/status/{bridge}            device connection status
//	rx1bridge/health/{bridge}            bridge health, refreshed periodically
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package rx1
