package message

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hamba/avro/v2/ocf"
	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/ava-labs/alert-republisher/pkg/queue"
)

// Message headers set on every loaded message.
const (
	HeaderFormat = "_format"
	HeaderID     = "_id"
	HeaderSource = "_source"
	HeaderSender = "_sender"
)

const voEventRoot = "VOEvent"

// LoaderConfig configures a FileLoader.
type LoaderConfig struct {
	Format Format
	// JSONSchemaPath, when set, is a JSON Schema every JSON message must
	// satisfy. Only valid with FormatJSON.
	JSONSchemaPath string
	// Sender is copied into the _sender header when not empty.
	Sender string
}

// FileLoader reads message files and implements queue.Loader.
type FileLoader struct {
	format Format
	schema *gojsonschema.Schema
	sender string
	log    *zap.SugaredLogger
}

// NewFileLoader creates a loader for cfg.Format, compiling the JSON schema
// if one is configured.
func NewFileLoader(cfg LoaderConfig, log *zap.SugaredLogger) (*FileLoader, error) {
	format := cfg.Format
	if format == "" {
		format = DefaultFormat
	}
	if _, err := ParseFormat(string(format)); err != nil {
		return nil, err
	}

	l := &FileLoader{
		format: format,
		sender: cfg.Sender,
		log:    log,
	}

	if cfg.JSONSchemaPath != "" {
		if format != FormatJSON {
			return nil, fmt.Errorf("json schema validation requires format %s, got %s", FormatJSON, format)
		}
		abs, err := filepath.Abs(cfg.JSONSchemaPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve json schema path: %w", err)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewReferenceLoader("file://" + filepath.ToSlash(abs)))
		if err != nil {
			return nil, fmt.Errorf("failed to load json schema %s: %w", cfg.JSONSchemaPath, err)
		}
		l.schema = schema
	}

	return l, nil
}

// Format returns the format files are loaded as.
func (l *FileLoader) Format() Format {
	return l.format
}

// Load reads the file at source and returns it as a message. The payload
// is the file content unchanged.
func (l *FileLoader) Load(ctx context.Context, source string) (queue.Msg, error) {
	if err := ctx.Err(); err != nil {
		return queue.Msg{}, err
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return queue.Msg{}, fmt.Errorf("failed to read %s: %w", source, err)
	}
	if len(data) == 0 {
		return queue.Msg{}, fmt.Errorf("%s: %w", source, ErrEmptyPayload)
	}

	if err := l.check(data); err != nil {
		return queue.Msg{}, fmt.Errorf("%s: %w", source, err)
	}

	headers := map[string]string{
		HeaderFormat: l.format.HeaderValue(),
		HeaderID:     uuid.NewString(),
		HeaderSource: filepath.Base(source),
	}
	if l.sender != "" {
		headers[HeaderSender] = l.sender
	}

	l.log.Debugw("loaded message",
		"source", source,
		"format", l.format,
		"bytes", len(data))

	return queue.Msg{
		Value:   data,
		Headers: headers,
		Source:  source,
	}, nil
}

func (l *FileLoader) check(data []byte) error {
	switch l.format {
	case FormatAvro:
		return checkAvro(data)
	case FormatJSON:
		return l.checkJSON(data)
	case FormatVOEvent:
		return checkVOEvent(data)
	default:
		return nil
	}
}

// checkAvro requires an object container file holding at least one
// readable record.
func checkAvro(data []byte) error {
	dec, err := ocf.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: not an avro container: %w", ErrInvalidPayload, err)
	}

	records := 0
	for dec.HasNext() {
		var rec any
		if err := dec.Decode(&rec); err != nil {
			return fmt.Errorf("%w: record %d: %w", ErrInvalidPayload, records, err)
		}
		records++
	}
	if err := dec.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if records == 0 {
		return fmt.Errorf("%w: avro container has no records", ErrInvalidPayload)
	}
	return nil
}

func (l *FileLoader) checkJSON(data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("%w: not valid JSON", ErrInvalidPayload)
	}
	if l.schema == nil {
		return nil
	}

	result, err := l.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("json schema validation error: %w", err)
	}
	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(problems, "; "))
	}
	return nil
}

// checkVOEvent requires well-formed XML whose root element is VOEvent, with
// or without a namespace prefix.
func checkVOEvent(data []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(data))

	root := ""
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: malformed XML: %w", ErrInvalidPayload, err)
		}
		if start, ok := tok.(xml.StartElement); ok && root == "" {
			root = start.Name.Local
		}
	}

	if root != voEventRoot {
		return fmt.Errorf("%w: root element is %q, want %q", ErrInvalidPayload, root, voEventRoot)
	}
	return nil
}
