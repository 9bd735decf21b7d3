package subscriber

import (
	"errors"
	"fmt"
	"unicode/utf8"

	jsoniter "github.com/json-iterator/go"
)

// PayloadFormat selects how inbound payloads are decoded before they reach
// the application handler.
type PayloadFormat string

const (
	// FormatRaw passes payloads through untouched
	FormatRaw PayloadFormat = "raw"
	// FormatText requires valid UTF-8 and yields a string
	FormatText PayloadFormat = "text"
	// FormatJSON requires a JSON document and yields the decoded value
	FormatJSON PayloadFormat = "json"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var errInvalidUTF8 = errors.New("payload is not valid UTF-8")

// ParsePayloadFormat converts a configuration string into a PayloadFormat
func ParsePayloadFormat(s string) (PayloadFormat, error) {
	switch f := PayloadFormat(s); f {
	case FormatRaw, FormatText, FormatJSON:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown payload format %q", s)
	}
}

// decode converts payload according to format. Failures are returned as
// *DeliveryDecodeError.
func decode(format PayloadFormat, topic string, payload []byte) (interface{}, error) {
	switch format {
	case FormatRaw:
		return payload, nil
	case FormatJSON:
		var value interface{}
		if err := json.Unmarshal(payload, &value); err != nil {
			return nil, &DeliveryDecodeError{Topic: topic, Format: format, Err: err}
		}
		return value, nil
	default:
		if !utf8.Valid(payload) {
			return nil, &DeliveryDecodeError{Topic: topic, Format: FormatText, Err: errInvalidUTF8}
		}
		return string(payload), nil
	}
}
