package nats

import (
	"strings"
)

// ToNATSSubject converts an MQTT topic format to NATS subject format
// MQTT uses / as separators and +/# as wildcards
// NATS uses . as separators and */> as wildcards
func ToNATSSubject(mqttTopic string) string {
	// Dots are legal inside MQTT levels but separate NATS tokens
	subject := NormalizeSubject(mqttTopic)

	subject = strings.ReplaceAll(subject, "+", "*")
	subject = strings.ReplaceAll(subject, "#", ">")

	return strings.ReplaceAll(subject, "/", ".")
}

// ToMQTTTopic converts a NATS subject format to MQTT topic format
// This is the reverse of ToNATSSubject for concrete subjects
func ToMQTTTopic(natsSubject string) string {
	topic := strings.ReplaceAll(natsSubject, "*", "+")
	topic = strings.ReplaceAll(topic, ">", "#")

	return strings.ReplaceAll(topic, ".", "/")
}

// NormalizeSubject replaces characters NATS does not allow in subject tokens
func NormalizeSubject(subject string) string {
	replacer := strings.NewReplacer(
		" ", "_",
		".", "_",
		"\t", "_",
	)
	return replacer.Replace(subject)
}

// subjectMatches reports whether a concrete subject matches a subscription
// subject using NATS wildcard rules.
func subjectMatches(pattern, subject string) bool {
	patternTokens := strings.Split(pattern, ".")
	subjectTokens := strings.Split(subject, ".")

	for i, token := range patternTokens {
		if token == ">" {
			return len(subjectTokens) > i
		}
		if i >= len(subjectTokens) {
			return false
		}
		if token != "*" && token != subjectTokens[i] {
			return false
		}
	}
	return len(patternTokens) == len(subjectTokens)
}

// topicFor rebuilds the MQTT topic of a message received through filter.
// Literal levels are taken from the filter so characters replaced by
// NormalizeSubject come back unchanged; wildcard levels come from subject.
func topicFor(filter, subject string) string {
	levels := strings.Split(filter, "/")
	tokens := strings.Split(subject, ".")

	out := make([]string, 0, len(tokens))
	for i, level := range levels {
		if i >= len(tokens) {
			break
		}
		switch level {
		case "#":
			out = append(out, ToMQTTTopic(strings.Join(tokens[i:], ".")))
			return strings.Join(out, "/")
		case "+":
			out = append(out, tokens[i])
		default:
			out = append(out, level)
		}
	}
	return strings.Join(out, "/")
}
