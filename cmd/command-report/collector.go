package main

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
)

const (
	commandEventName   = "users.command"
	commandEventDomain = "event-api"

	attrStatusCode  = "status_code"
	attrTotalMillis = "users.command.total_ms"
	attrQueued      = "users.command.queued"
	attrCommandType = "users.command.type"
	attrEventType   = "users.command.event"
	attrErrorStage  = "users.command.error_stage"
)

type logRecord struct {
	EventName      string         `json:"event.name"`
	EventDomain    string         `json:"event.domain"`
	SeverityText   string         `json:"severity_text"`
	SeverityNumber int            `json:"severity_number"`
	Attributes     map[string]any `json:"attributes"`
}

type collector struct {
	eventName   string
	eventDomain string
	stats       commandSummary
	skipped     int
}

type commandSummary struct {
	Count          int
	SeverityCounts map[string]int
	StatusCounts   map[int]int
	CommandCounts  map[string]int
	EventCounts    map[string]int
	ErrorStages    map[string]int
	Total          *numericStats
	Queued         *numericStats
	ErrorEvents    int
	WarnEvents     int
}

type numericStats struct {
	Count int
	Sum   float64
	Min   float64
	Max   float64
}

type numericSummary struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
}

type summaryOutput struct {
	EventName      string         `json:"event_name"`
	EventDomain    string         `json:"event_domain"`
	TotalEvents    int            `json:"total_events"`
	SeverityCounts map[string]int `json:"severity_counts"`
	StatusCounts   map[string]int `json:"status_counts"`
	Commands       map[string]int `json:"commands"`
	Events         map[string]int `json:"events"`
	TotalMs        numericSummary `json:"total_ms"`
	Queued         numericSummary `json:"queued"`
	ErrorStages    map[string]int `json:"error_stages,omitempty"`
	ErrorEvents    int            `json:"error_events"`
	WarnEvents     int            `json:"warn_events"`
	SkippedLines   int            `json:"skipped_lines"`
}

func newCollector(eventName, eventDomain string) *collector {
	return &collector{
		eventName:   eventName,
		eventDomain: eventDomain,
		stats: commandSummary{
			SeverityCounts: make(map[string]int),
			StatusCounts:   make(map[int]int),
			CommandCounts:  make(map[string]int),
			EventCounts:    make(map[string]int),
			ErrorStages:    make(map[string]int),
			Total:          newNumericStats(),
			Queued:         newNumericStats(),
		},
	}
}

// ingest accepts one log line. docker compose prefixes lines with
// "service | ", which is stripped.
func (c *collector) ingest(line string) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return
	}
	if pipe := strings.Index(trimmed, "|"); pipe >= 0 && !strings.HasPrefix(trimmed, "{") {
		trimmed = strings.TrimSpace(trimmed[pipe+1:])
	}

	var rec logRecord
	if err := sonic.ConfigStd.UnmarshalFromString(trimmed, &rec); err != nil {
		c.skipped++
		return
	}
	if rec.EventName != c.eventName {
		return
	}
	if c.eventDomain != "" && rec.EventDomain != c.eventDomain {
		return
	}
	c.addRecord(rec)
}

func (c *collector) addRecord(rec logRecord) {
	c.stats.Count++

	severity := strings.ToUpper(strings.TrimSpace(rec.SeverityText))
	if severity == "" {
		severity = "UNSPECIFIED"
	}
	c.stats.SeverityCounts[severity]++
	switch severity {
	case "ERROR":
		c.stats.ErrorEvents++
	case "WARN", "WARNING":
		c.stats.WarnEvents++
	}

	if rec.Attributes == nil {
		return
	}
	if v, ok := asFloat(rec.Attributes[attrStatusCode]); ok {
		c.stats.StatusCounts[int(v)]++
	}
	if v, ok := asFloat(rec.Attributes[attrTotalMillis]); ok {
		c.stats.Total.add(v)
	}
	if v, ok := asFloat(rec.Attributes[attrQueued]); ok {
		c.stats.Queued.add(v)
	}
	if s, ok := rec.Attributes[attrCommandType].(string); ok && s != "" {
		c.stats.CommandCounts[s]++
	}
	if s, ok := rec.Attributes[attrEventType].(string); ok && s != "" {
		c.stats.EventCounts[s]++
	}
	if s, ok := rec.Attributes[attrErrorStage].(string); ok && s != "" {
		c.stats.ErrorStages[s]++
	}
}

func newNumericStats() *numericStats {
	return &numericStats{Min: math.MaxFloat64}
}

func (n *numericStats) add(value float64) {
	n.Count++
	n.Sum += value
	if value < n.Min {
		n.Min = value
	}
	if value > n.Max {
		n.Max = value
	}
}

func (n *numericStats) summary() numericSummary {
	if n == nil || n.Count == 0 {
		return numericSummary{}
	}
	return numericSummary{
		Count: n.Count,
		Min:   n.Min,
		Max:   n.Max,
		Avg:   n.Sum / float64(n.Count),
	}
}

func (c *collector) summary() summaryOutput {
	statusCounts := make(map[string]int, len(c.stats.StatusCounts))
	for status, count := range c.stats.StatusCounts {
		statusCounts[strconv.Itoa(status)] = count
	}
	var stages map[string]int
	if len(c.stats.ErrorStages) > 0 {
		stages = c.stats.ErrorStages
	}
	return summaryOutput{
		EventName:      c.eventName,
		EventDomain:    c.eventDomain,
		TotalEvents:    c.stats.Count,
		SeverityCounts: c.stats.SeverityCounts,
		StatusCounts:   statusCounts,
		Commands:       c.stats.CommandCounts,
		Events:         c.stats.EventCounts,
		TotalMs:        c.stats.Total.summary(),
		Queued:         c.stats.Queued.summary(),
		ErrorStages:    stages,
		ErrorEvents:    c.stats.ErrorEvents,
		WarnEvents:     c.stats.WarnEvents,
		SkippedLines:   c.skipped,
	}
}

func (s summaryOutput) ShortString() string {
	parts := []string{
		"event=" + s.EventName,
		"total=" + strconv.Itoa(s.TotalEvents),
		"warn=" + strconv.Itoa(s.WarnEvents),
		"error=" + strconv.Itoa(s.ErrorEvents),
		"avg_total_ms=" + formatFloat(s.TotalMs.Avg),
		"max_total_ms=" + formatFloat(s.TotalMs.Max),
	}
	commands := make([]string, 0, len(s.Commands))
	for name := range s.Commands {
		commands = append(commands, name)
	}
	sort.Strings(commands)
	for _, name := range commands {
		parts = append(parts, name+"="+strconv.Itoa(s.Commands[name]))
	}
	return strings.Join(parts, " ")
}

func formatFloat(v float64) string {
	if v == 0 {
		return "0"
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

func asFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
