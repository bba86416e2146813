// Package logs ingests per-trace structured log files into LogEvents and
// builds the next_log chain that totally orders each trace.
package logs

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ziadkadry99/tracegraph/internal/model"
)

// ErrMalformedLine is returned for a log line that is not a JSON object.
var ErrMalformedLine = errors.New("malformed log line")

// maxLineSize bounds a single log line; longer lines are skipped as malformed.
const maxLineSize = 4 << 20

// record is the on-disk shape of one log line.
type record struct {
	Timestamp any                        `json:"timestamp"`
	Level     string                     `json:"level"`
	Message   string                     `json:"message"`
	TraceID   any                        `json:"trace_id"`
	OrderID   any                        `json:"order_id"`
	Exception any                        `json:"exception"`
	ExtraData map[string]json.RawMessage `json:"extra_data"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05,999",
	"2006-01-02 15:04:05",
}

// ParseTimestamp parses the timestamp formats emitted by common Python
// loggers. Naive times are taken as UTC. It reports false when no layout fits.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// FunctionLabel returns the token of a leading "[token]" in msg.
func FunctionLabel(msg string) string {
	if !strings.HasPrefix(msg, "[") {
		return ""
	}
	end := strings.IndexByte(msg, ']')
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(msg[1:end])
}

// ParseLine parses one JSON log line of service. defaultTrace is used when
// the line carries no trace_id of its own.
func ParseLine(line []byte, service, defaultTrace string) (model.LogEvent, error) {
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return model.LogEvent{}, fmt.Errorf("%w: %v", ErrMalformedLine, err)
	}

	ev := model.LogEvent{
		RawTimestamp:  scalarString(rec.Timestamp),
		Service:       service,
		Level:         strings.ToUpper(strings.TrimSpace(rec.Level)),
		TraceID:       defaultTrace,
		OrderID:       scalarString(rec.OrderID),
		FunctionLabel: FunctionLabel(rec.Message),
		Message:       rec.Message,
		Exception:     scalarString(rec.Exception),
		Metadata:      "{}",
	}
	if t := scalarString(rec.TraceID); t != "" {
		ev.TraceID = t
	}
	ev.Timestamp, _ = ParseTimestamp(ev.RawTimestamp)

	if len(rec.ExtraData) > 0 {
		meta, err := json.Marshal(rec.ExtraData)
		if err != nil {
			return model.LogEvent{}, fmt.Errorf("%w: extra_data: %v", ErrMalformedLine, err)
		}
		ev.Metadata = string(meta)
		ev.ErrorCode = rawString(rec.ExtraData["error_code"])
		ev.ErrorType = rawString(rec.ExtraData["error_type"])
		if d, ok := rawFloat(rec.ExtraData["duration_ms"]); ok {
			ev.DurationMs = &d
		}
	}
	return ev, nil
}

// scalarString renders a JSON scalar as text; null and absent become "".
func scalarString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return ""
	}
	return scalarString(v)
}

func rawFloat(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

// FileStats are the line counts of one parsed file.
type FileStats struct {
	Lines     int `json:"lines"`
	Events    int `json:"events"`
	Malformed int `json:"malformed"`
}

// ParseReader parses newline-delimited JSON records. Blank lines are
// ignored; malformed lines are logged at warn and skipped.
func ParseReader(ctx context.Context, r io.Reader, path, service, trace string, logger *slog.Logger) ([]model.LogEvent, FileStats, error) {
	var stats FileStats
	var events []model.LogEvent

	br := bufio.NewReaderSize(r, 64*1024)
	lineNo := 0
	for {
		raw, tooLong, err := readLine(br)
		if err != nil && err != io.EOF {
			return nil, stats, fmt.Errorf("reading %s: %w", path, err)
		}
		if err == io.EOF && len(raw) == 0 && !tooLong {
			break
		}
		lineNo++
		if lineNo%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}
		}

		if tooLong {
			stats.Lines++
			stats.Malformed++
			logger.Warn("skipping oversized log line", "file", path, "line", lineNo, "limit", maxLineSize)
		} else if line := bytes.TrimSpace(raw); len(line) > 0 {
			stats.Lines++
			ev, perr := ParseLine(line, service, trace)
			if perr != nil {
				stats.Malformed++
				logger.Warn("skipping malformed log line", "file", path, "line", lineNo, "error", perr)
			} else {
				ev.FilePath = path
				events = append(events, ev)
			}
		}
		if err == io.EOF {
			break
		}
	}
	stats.Events = len(events)
	return events, stats, nil
}

// readLine returns the next line without its newline. A line longer than
// maxLineSize is consumed up to its newline and reported as tooLong with
// no content. err is io.EOF on the last line of the input.
func readLine(br *bufio.Reader) (line []byte, tooLong bool, err error) {
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > maxLineSize+1 {
				tooLong, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		if !tooLong {
			line = bytes.TrimSuffix(line, []byte("\n"))
		}
		return line, tooLong, err
	}
}

// ParseFile opens and parses one trace log file.
func ParseFile(ctx context.Context, path, relPath, service, trace string, logger *slog.Logger) ([]model.LogEvent, FileStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, FileStats{}, fmt.Errorf("opening log file: %w", err)
	}
	defer f.Close()
	return ParseReader(ctx, f, relPath, service, trace, logger)
}
