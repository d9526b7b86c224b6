package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// LogEntry is one parsed line of hookline.log.
type LogEntry struct {
	Timestamp  time.Time      `json:"time"`
	Level      string         `json:"level"`
	Message    string         `json:"msg"`
	QueueID    string         `json:"queue_id,omitempty"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	GateID     string         `json:"gate_id,omitempty"`
	AgentID    string         `json:"agent_id,omitempty"`
	Attrs      map[string]any `json:"attrs,omitempty"`
}

// LogFilter selects entries. Zero-valued fields match everything.
type LogFilter struct {
	Level           string
	Since           time.Time
	Until           time.Time
	QueueID         string
	WorkflowID      string
	GateID          string
	AgentID         string
	MessageContains string
}

var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ReadLogs parses {dir}/hookline.log and returns entries sorted by time.
// Lines that are not valid JSON are skipped.
func ReadLogs(dir string) ([]LogEntry, error) {
	f, err := os.Open(filepath.Join(dir, LogFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("no log file in %s: %w", dir, err)
		}
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = f.Close() }()
	return ParseLogs(f)
}

// ParseLogs reads JSON log lines from r.
func ParseLogs(r io.Reader) ([]LogEntry, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var entries []LogEntry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := parseLogEntry(line)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

func parseLogEntry(line string) (LogEntry, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return LogEntry{}, fmt.Errorf("invalid JSON: %w", err)
	}

	entry := LogEntry{Attrs: make(map[string]any)}
	take := func(key string) string {
		v, _ := raw[key].(string)
		delete(raw, key)
		return v
	}
	if ts := take("time"); ts != "" {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			entry.Timestamp = t
		}
	}
	entry.Level = take("level")
	entry.Message = take("msg")
	entry.QueueID = take(KeyQueue)
	entry.WorkflowID = take(KeyWorkflow)
	entry.GateID = take(KeyGate)
	entry.AgentID = take(KeyAgent)
	for k, v := range raw {
		entry.Attrs[k] = v
	}
	return entry, nil
}

// FilterLogs returns the entries matching every set criterion.
func FilterLogs(entries []LogEntry, filter LogFilter) []LogEntry {
	if filter == (LogFilter{}) {
		return entries
	}
	var out []LogEntry
	for _, e := range entries {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

func (f LogFilter) matches(e LogEntry) bool {
	if f.Level != "" {
		want, okWant := levelOrder[strings.ToUpper(f.Level)]
		got, okGot := levelOrder[e.Level]
		if okWant && okGot && got < want {
			return false
		}
	}
	if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && e.Timestamp.After(f.Until) {
		return false
	}
	switch {
	case f.QueueID != "" && e.QueueID != f.QueueID:
		return false
	case f.WorkflowID != "" && e.WorkflowID != f.WorkflowID:
		return false
	case f.GateID != "" && e.GateID != f.GateID:
		return false
	case f.AgentID != "" && e.AgentID != f.AgentID:
		return false
	case f.MessageContains != "" && !strings.Contains(e.Message, f.MessageContains):
		return false
	}
	return true
}

// WriteLogs renders entries as "json" (an indented array) or "text".
func WriteLogs(w io.Writer, entries []LogEntry, format string) error {
	switch strings.ToLower(format) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "text", "":
		for _, e := range entries {
			if _, err := io.WriteString(w, formatText(e)+"\n"); err != nil {
				return fmt.Errorf("failed to write entry: %w", err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported format: %s (supported: json, text)", format)
	}
}

func formatText(e LogEntry) string {
	parts := []string{
		fmt.Sprintf("[%s]", e.Timestamp.Format("2006-01-02 15:04:05.000")),
		e.Level, "-", e.Message,
	}
	var scope []string
	for _, kv := range [][2]string{
		{"queue", e.QueueID},
		{"workflow", e.WorkflowID},
		{"gate", e.GateID},
		{"agent", e.AgentID},
	} {
		if kv[1] != "" {
			scope = append(scope, kv[0]+"="+kv[1])
		}
	}
	if len(scope) > 0 {
		parts = append(parts, "("+strings.Join(scope, ", ")+")")
	}
	if len(e.Attrs) > 0 {
		if b, err := json.Marshal(e.Attrs); err == nil {
			parts = append(parts, string(b))
		}
	}
	return strings.Join(parts, " ")
}
