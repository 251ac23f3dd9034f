package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// TextFormatter formats log entries as human-readable text:
//
//	2025-01-02 15:04:05.000 [INFO] [req-1] executor s1/echo: Tool executed | duration_ms=12
type TextFormatter struct {
	// TimestampFormat is the format for timestamps
	TimestampFormat string
	// DisableColors disables terminal colors
	DisableColors bool
	// DisableTimestamp disables timestamp output
	DisableTimestamp bool
}

// NewTextFormatter creates a new text formatter
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{
		TimestampFormat: "2006-01-02 15:04:05.000",
	}
}

// Format formats a log entry as text
func (f *TextFormatter) Format(entry *Entry) ([]byte, error) {
	var buf bytes.Buffer

	if !f.DisableTimestamp {
		buf.WriteString(entry.Timestamp.Format(f.TimestampFormat))
		buf.WriteByte(' ')
	}

	levelText := "[" + entry.Level.String() + "]"
	if !f.DisableColors {
		levelText = colorLevel(entry.Level, levelText)
	}
	buf.WriteString(levelText)
	buf.WriteByte(' ')

	if entry.RequestID != "" {
		fmt.Fprintf(&buf, "[%s] ", entry.RequestID)
	}

	// Header: "component server/tool: "
	var header []string
	if entry.Component != "" {
		header = append(header, entry.Component)
	}
	switch {
	case entry.ServerID != "" && entry.Tool != "":
		header = append(header, entry.ServerID+"/"+entry.Tool)
	case entry.ServerID != "":
		header = append(header, entry.ServerID)
	case entry.Tool != "":
		header = append(header, entry.Tool)
	}
	if len(header) > 0 {
		buf.WriteString(strings.Join(header, " "))
		buf.WriteString(": ")
	}

	buf.WriteString(entry.Message)

	if pairs := formatFields(entry.Fields); pairs != "" {
		buf.WriteString(" | ")
		buf.WriteString(pairs)
	}

	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// headerFields are rendered in the line header rather than as pairs
var headerFields = map[string]bool{
	"request_id": true,
	"component":  true,
	"server_id":  true,
	"tool":       true,
}

// formatFields renders the remaining fields as sorted key=value pairs
func formatFields(fields map[string]interface{}) string {
	pairs := make([]string, 0, len(fields))
	for k, v := range fields {
		if headerFields[k] {
			continue
		}

		var valueStr string
		switch val := v.(type) {
		case error:
			valueStr = quoteIfSpaced(val.Error())
		case string:
			valueStr = quoteIfSpaced(val)
		default:
			valueStr = fmt.Sprintf("%v", v)
		}
		pairs = append(pairs, k+"="+valueStr)
	}
	sort.Strings(pairs)
	return strings.Join(pairs, " ")
}

func quoteIfSpaced(s string) string {
	if strings.ContainsAny(s, " \t\n") {
		return fmt.Sprintf("%q", s)
	}
	return s
}

func colorLevel(level Level, text string) string {
	const (
		red    = "\033[31m"
		yellow = "\033[33m"
		blue   = "\033[34m"
		gray   = "\033[90m"
		reset  = "\033[0m"
	)

	switch level {
	case DebugLevel:
		return gray + text + reset
	case InfoLevel:
		return blue + text + reset
	case WarnLevel:
		return yellow + text + reset
	case ErrorLevel, FatalLevel:
		return red + text + reset
	default:
		return text
	}
}

// JSONFormatter formats log entries as one JSON object per line
type JSONFormatter struct {
	// TimestampFormat is the format for timestamps
	TimestampFormat string
	// DisableTimestamp disables timestamp output
	DisableTimestamp bool
}

// NewJSONFormatter creates a new JSON formatter
func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
	}
}

// Format formats a log entry as JSON
func (f *JSONFormatter) Format(entry *Entry) ([]byte, error) {
	data := make(map[string]interface{}, len(entry.Fields)+3)
	for k, v := range entry.Fields {
		switch val := v.(type) {
		case error:
			data[k] = val.Error()
		case fmt.Stringer:
			data[k] = val.String()
		default:
			data[k] = v
		}
	}

	data["level"] = entry.Level.String()
	data["message"] = entry.Message
	if !f.DisableTimestamp {
		data["timestamp"] = entry.Timestamp.Format(f.TimestampFormat)
	}

	out, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal log entry: %w", err)
	}
	return append(out, '\n'), nil
}
