package mqtt

import "fmt"

// TopicPrefix is the root of every topic this service publishes or consumes.
//
// Bridge topics use the flat scheme: rx1bridge/{category}/{bridge}/{key}
const TopicPrefix = "rx1bridge"

// TopicPrefixSystem is the base for process-level topics.
const TopicPrefixSystem = TopicPrefix + "/system"

// Topics provides builders for rx1bridge MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.Variable("rx1", "server_uptime")
//	// Returns: "rx1bridge/variable/rx1/server_uptime"
type Topics struct{}

// Command returns the inbound topic for a command of the given kind.
//
// Example: rx1bridge/command/rx1/start_service
func (Topics) Command(bridgeID, kind string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, bridgeID, kind)
}

// Ack returns the topic on which command acknowledgements are published.
//
// Example: rx1bridge/ack/rx1/start_service
func (Topics) Ack(bridgeID, kind string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, bridgeID, kind)
}

// Request returns the inbound topic for a request.
//
// Example: rx1bridge/request/rx1/req-abc123
func (Topics) Request(bridgeID, requestID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, bridgeID, requestID)
}

// Response returns the topic for the response to a request.
//
// Example: rx1bridge/response/rx1/req-abc123
func (Topics) Response(bridgeID, requestID string) string {
	return fmt.Sprintf("%s/response/%s/%s", TopicPrefix, bridgeID, requestID)
}

// Variable returns the retained topic for one observable field.
//
// Example: rx1bridge/variable/rx1/service_Cam_1_state
func (Topics) Variable(bridgeID, field string) string {
	return fmt.Sprintf("%s/variable/%s/%s", TopicPrefix, bridgeID, field)
}

// Feedback returns the retained topic for a watched condition result.
//
// Example: rx1bridge/feedback/rx1/cam1-running
func (Topics) Feedback(bridgeID, id string) string {
	return fmt.Sprintf("%s/feedback/%s/%s", TopicPrefix, bridgeID, id)
}

// Status returns the retained device connection status topic.
//
// Example: rx1bridge/status/rx1
func (Topics) Status(bridgeID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefix, bridgeID)
}

// Health returns the retained bridge health topic.
//
// Example: rx1bridge/health/rx1
func (Topics) Health(bridgeID string) string {
	return fmt.Sprintf("%s/health/%s", TopicPrefix, bridgeID)
}

// SystemStatus returns the process online/offline topic (also the LWT topic).
//
// Example: rx1bridge/system/status
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// AllCommands returns a pattern matching every command for a bridge.
//
// Pattern: rx1bridge/command/rx1/+
func (Topics) AllCommands(bridgeID string) string {
	return fmt.Sprintf("%s/command/%s/+", TopicPrefix, bridgeID)
}

// AllRequests returns a pattern matching every request for a bridge.
//
// Pattern: rx1bridge/request/rx1/+
func (Topics) AllRequests(bridgeID string) string {
	return fmt.Sprintf("%s/request/%s/+", TopicPrefix, bridgeID)
}

// AllVariables returns a pattern matching every variable of a bridge.
//
// Pattern: rx1bridge/variable/rx1/+
func (Topics) AllVariables(bridgeID string) string {
	return fmt.Sprintf("%s/variable/%s/+", TopicPrefix, bridgeID)
}

// AllTopics returns a pattern matching all rx1bridge traffic.
//
// Pattern: rx1bridge/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
