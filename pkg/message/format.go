// Package message loads alert files from disk into queue messages, checking
// that each file is a valid instance of its declared format.
package message

import (
	"errors"
	"fmt"
	"strings"
)

// Format is the serialization of a message file.
type Format string

const (
	FormatAvro    Format = "AVRO"
	FormatJSON    Format = "JSON"
	FormatBlob    Format = "BLOB"
	FormatVOEvent Format = "VOEVENT"
)

// DefaultFormat is used when no format is given.
const DefaultFormat = FormatAvro

var (
	// ErrUnknownFormat is returned for a format name that is not supported.
	ErrUnknownFormat = errors.New("unknown message format")
	// ErrEmptyPayload is returned for an empty message file.
	ErrEmptyPayload = errors.New("empty message payload")
	// ErrInvalidPayload is returned when a file does not match its format.
	ErrInvalidPayload = errors.New("invalid message payload")
)

// Formats lists every supported format.
func Formats() []Format {
	return []Format{FormatAvro, FormatJSON, FormatBlob, FormatVOEvent}
}

// ParseFormat parses a format name, ignoring case. An empty name yields
// DefaultFormat.
func ParseFormat(s string) (Format, error) {
	if strings.TrimSpace(s) == "" {
		return DefaultFormat, nil
	}
	f := Format(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Formats() {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// HeaderValue is the value of the _format header for f.
func (f Format) HeaderValue() string {
	return strings.ToLower(string(f))
}

func (f Format) String() string {
	return string(f)
}
