package ndjson

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/veas-org/veas-agent/internal/protocol"
)

// MaxRecordSize is the maximum NDJSON record size (256 KiB)
const MaxRecordSize = 256 * 1024

// Encoder writes NDJSON records to an output stream
type Encoder struct {
	writer *bufio.Writer
	logger *slog.Logger
}

// NewEncoder creates a new NDJSON encoder
func NewEncoder(w io.Writer, logger *slog.Logger) *Encoder {
	return &Encoder{
		writer: bufio.NewWriter(w),
		logger: logger,
	}
}

// Encode writes a record as a single JSON line
func (e *Encoder) Encode(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	if len(data) > MaxRecordSize {
		e.logger.Error("record exceeds size limit",
			"size", len(data),
			"limit", MaxRecordSize,
			"overflow", len(data)-MaxRecordSize)
		return fmt.Errorf("record size %d exceeds limit %d", len(data), MaxRecordSize)
	}

	if _, err := e.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if err := e.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	// Flush immediately so tail consumers see records in real time
	if err := e.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush output: %w", err)
	}

	return nil
}

// Decoder reads NDJSON records from an input stream
type Decoder struct {
	scanner *bufio.Scanner
	logger  *slog.Logger
	lineNum int
}

// NewDecoder creates a new NDJSON decoder
func NewDecoder(r io.Reader, logger *slog.Logger) *Decoder {
	scanner := bufio.NewScanner(r)

	buf := make([]byte, MaxRecordSize)
	scanner.Buffer(buf, MaxRecordSize)

	return &Decoder{
		scanner: scanner,
		logger:  logger,
		lineNum: 0,
	}
}

// Decode reads the next NDJSON record
func (d *Decoder) Decode(v any) error {
	if !d.scanner.Scan() {
		if err := d.scanner.Err(); err != nil {
			return fmt.Errorf("scanner error at line %d: %w", d.lineNum, err)
		}
		return io.EOF
	}

	d.lineNum++
	data := d.scanner.Bytes()

	if len(data) > MaxRecordSize {
		d.logger.Error("line exceeds size limit",
			"line", d.lineNum,
			"size", len(data),
			"limit", MaxRecordSize)
		return fmt.Errorf("line %d size %d exceeds limit %d", d.lineNum, len(data), MaxRecordSize)
	}

	// Skip empty lines
	if len(data) == 0 {
		return d.Decode(v)
	}

	if err := json.Unmarshal(data, v); err != nil {
		d.logger.Error("failed to unmarshal JSON",
			"line", d.lineNum,
			"error", err,
			"data", string(data[:min(100, len(data))]))
		return fmt.Errorf("failed to unmarshal line %d: %w", d.lineNum, err)
	}

	return nil
}

// DecodeEnvelope reads and routes a record based on its kind
func (d *Decoder) DecodeEnvelope() (any, error) {
	var envelope map[string]any
	if err := d.Decode(&envelope); err != nil {
		return nil, err
	}

	kind, ok := envelope["kind"].(string)
	if !ok {
		return nil, fmt.Errorf("line %d: missing or invalid 'kind' field", d.lineNum)
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("line %d: failed to re-marshal envelope: %w", d.lineNum, err)
	}

	switch protocol.RecordKind(kind) {
	case protocol.RecordKindSessionStarted:
		var rec protocol.SessionStarted
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("line %d: failed to decode session.started: %w", d.lineNum, err)
		}
		return &rec, nil

	case protocol.RecordKindRuleFired:
		var rec protocol.RuleFired
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("line %d: failed to decode rule.fired: %w", d.lineNum, err)
		}
		return &rec, nil

	case protocol.RecordKindHeartbeat:
		var rec protocol.Heartbeat
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("line %d: failed to decode heartbeat: %w", d.lineNum, err)
		}
		return &rec, nil

	case protocol.RecordKindSessionCompleted:
		var rec protocol.SessionCompleted
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("line %d: failed to decode session.completed: %w", d.lineNum, err)
		}
		return &rec, nil

	default:
		d.logger.Warn("unknown record kind",
			"line", d.lineNum,
			"kind", kind)
		return nil, fmt.Errorf("line %d: unknown record kind: %s", d.lineNum, kind)
	}
}
