package mqtt

import "strings"

// Topic layout used by Gray Logic protocol bridges.
//
// Bridge state uses the flat scheme graylogic/state/{protocol}/{address},
// published retained at QoS 1.
const (
	// TopicPrefix is the base for all Gray Logic topics.
	TopicPrefix = "graylogic"

	// AllStateTopics matches every bridge state topic.
	AllStateTopics = TopicPrefix + "/state/+/+"
)

// ParseStateTopic splits a bridge state topic into protocol and address.
//
// Example: graylogic/state/knx/1~2~3 yields ("knx", "1~2~3").
// ok is false for topics outside graylogic/state/{protocol}/{address}.
func ParseStateTopic(topic string) (protocol, address string, ok bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != TopicPrefix || parts[1] != "state" {
		return "", "", false
	}
	if parts[2] == "" || parts[3] == "" {
		return "", "", false
	}
	return parts[2], parts[3], true
}

// MatchTopic reports whether topic matches an MQTT subscription filter with
// + and # wildcards.
func MatchTopic(filter, topic string) bool {
	fp := strings.Split(filter, "/")
	tp := strings.Split(topic, "/")
	for i, f := range fp {
		if f == "#" {
			return true
		}
		if i >= len(tp) {
			return false
		}
		if f != "+" && f != tp[i] {
			return false
		}
	}
	return len(fp) == len(tp)
}
