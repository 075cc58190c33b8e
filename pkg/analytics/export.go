package analytics

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
)

// ExportData serializes stored events in the requested format. An
// empty rawUserID exports every event; otherwise only that player's.
// Events are ordered by timestamp ascending in all formats.
func (e *Engine) ExportData(ctx context.Context, rawUserID string, format ExportFormat) ([]byte, error) {
	filter := EventFilter{}
	if rawUserID != "" {
		filter.UserID = e.anonymizer.Anonymize(rawUserID)
	}

	events, err := e.store.QueryEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query events for export: %w", err)
	}

	switch format {
	case ExportFormatJSON:
		return exportJSON(events)
	case ExportFormatCSV:
		return exportCSV(events)
	case ExportFormatNDJSON:
		return exportNDJSON(events)
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

func exportJSON(events []*Event) ([]byte, error) {
	return json.MarshalIndent(events, "", "  ")
}

func exportNDJSON(events []*Event) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return nil, fmt.Errorf("failed to encode event %d: %w", ev.ID, err)
		}
	}
	return buf.Bytes(), nil
}

func exportCSV(events []*Event) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"id", "event_type", "user_id", "timestamp", "session_id", "data", "context", "anonymized"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, ev := range events {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to encode data for event %d: %w", ev.ID, err)
		}
		evCtx, err := json.Marshal(ev.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to encode context for event %d: %w", ev.ID, err)
		}
		row := []string{
			strconv.FormatInt(ev.ID, 10),
			string(ev.Type),
			ev.UserID,
			strconv.FormatFloat(ev.Timestamp, 'f', -1, 64),
			ev.SessionID,
			string(data),
			string(evCtx),
			strconv.FormatBool(ev.Anonymized),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV: %w", err)
	}
	return buf.Bytes(), nil
}
