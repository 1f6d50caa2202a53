package mqtt

import "strings"

// statusTopic carries the retained online/offline message and the will.
const statusTopic = "graylogger/system/status"

// Topics builds the topics the logger publishes to.
//
// Record fields are published under their effective names. Field names are
// often topics themselves (an mqtt source declares its topics as variable
// names), so only the wildcard characters are rewritten:
//
//	Topics{}.RecordField("plant/log", "rand1_x")  // "plant/log/rand1_x"
//	Topics{}.RecordField("", "sensors/t1")        // "sensors/t1"
type Topics struct{}

// SystemStatus returns graylogger/system/status.
func (Topics) SystemStatus() string {
	return statusTopic
}

// RecordField returns the publish topic for one record field. An empty
// prefix publishes to the field name itself.
func (Topics) RecordField(prefix, field string) string {
	field = wildcards.Replace(field)
	if prefix = strings.TrimRight(prefix, "/"); prefix == "" {
		return field
	}
	return prefix + "/" + field
}

var wildcards = strings.NewReplacer("+", "_", "#", "_")

// IsWildcard reports whether a topic filter contains + or #.
func IsWildcard(topic string) bool {
	return strings.ContainsAny(topic, "+#")
}
