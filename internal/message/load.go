package message

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// systemSubtypes are channel housekeeping events, not conversation.
var systemSubtypes = map[string]bool{
	"channel_join":    true,
	"channel_leave":   true,
	"channel_topic":   true,
	"channel_purpose": true,
	"channel_name":    true,
}

// LoadReport summarizes what happened to each record of an export.
type LoadReport struct {
	Total    int     // records in the export
	Filtered int     // bot, system and non-message records dropped before parsing
	Failed   []error // one *ParseError per rejected record
}

// Parsed returns the number of records that became Records.
func (r LoadReport) Parsed() int { return r.Total - r.Filtered - len(r.Failed) }

// SkipReason reports why a raw record is excluded before parsing, or "" when
// the record should be parsed.
func SkipReason(raw Raw) string {
	if raw.MessageType != "" && raw.MessageType != "message" {
		return "non_message"
	}
	if raw.SentByBotID != nil && *raw.SentByBotID != "" {
		return "bot"
	}
	if raw.Subtype != nil && *raw.Subtype == "bot_message" {
		return "bot"
	}
	if raw.Subtype != nil && systemSubtypes[*raw.Subtype] {
		return "system"
	}
	return ""
}

// Load decodes an export (a JSON array of records), filters out automated
// and non-message records and parses the rest. Malformed records are reported
// in the LoadReport and skipped. Only an export that is not a JSON array at
// all returns an error.
func Load(r io.Reader, logger *slog.Logger) ([]Record, LoadReport, error) {
	var report LoadReport

	dec := json.NewDecoder(r)
	tok, err := dec.Token()
	if err != nil {
		return nil, report, fmt.Errorf("read export: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return nil, report, errors.New("read export: expected a JSON array of messages")
	}

	var records []Record
	for idx := 0; dec.More(); idx++ {
		var elem json.RawMessage
		if err := dec.Decode(&elem); err != nil {
			return nil, report, fmt.Errorf("read export record %d: %w", idx, err)
		}
		report.Total++

		var raw Raw
		if err := json.Unmarshal(elem, &raw); err != nil {
			perr := &ParseError{Index: idx, Err: err}
			report.Failed = append(report.Failed, perr)
			logger.Warn("skipping malformed record", "index", idx, "error", err)
			continue
		}

		if reason := SkipReason(raw); reason != "" {
			report.Filtered++
			logger.Debug("filtered record", "index", idx, "reason", reason)
			continue
		}

		rec, err := Parse(idx, raw)
		if err != nil {
			report.Failed = append(report.Failed, err)
			logger.Warn("skipping invalid record", "index", idx, "error", err)
			continue
		}
		records = append(records, rec)
	}

	if _, err := dec.Token(); err != nil {
		return nil, report, fmt.Errorf("read export: %w", err)
	}

	logger.Info("export loaded",
		"total", report.Total,
		"parsed", len(records),
		"filtered", report.Filtered,
		"failed", len(report.Failed),
	)
	return records, report, nil
}
