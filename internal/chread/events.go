package chread

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/helix-sec/crucible/internal/telemetry"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse malware_events mirror for
// dashboard analytics. The in-process stores remain authoritative for the
// pipeline's own invariants; this read side only serves rollups over the
// durable copy.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// TimelineParams holds filters and pagination for a session timeline.
type TimelineParams struct {
	SessionID string
	Action    *string
	StartTime *time.Time
	EndTime   *time.Time
	Page      int
	PageSize  int
}

// SessionTimeline returns a paginated, timestamp-ascending slice of the
// session's mirrored events and the total count.
func (r *Reader) SessionTimeline(ctx context.Context, params TimelineParams) ([]telemetry.Event, int, error) {
	conditions := []string{"session_id = @session_id"}
	args := []any{
		clickhouse.Named("session_id", params.SessionID),
	}

	if params.Action != nil {
		conditions = append(conditions, "action = @action")
		args = append(args, clickhouse.Named("action", *params.Action))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}

	where := strings.Join(conditions, " AND ")
	offset := (params.Page - 1) * params.PageSize

	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM malware_events WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("SessionTimeline count: %w", err)
	}

	dataQuery := fmt.Sprintf(
		"SELECT event_id, timestamp, session_id, process_name, pid, ppid, "+
			"action, target_path, command_line, hashes, user_sid, severity "+
			"FROM malware_events WHERE %s "+
			"ORDER BY timestamp ASC "+
			"LIMIT @limit OFFSET @offset",
		where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("SessionTimeline query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []telemetry.Event
	for rows.Next() {
		var e telemetry.Event
		var action string
		var severity int32
		if err := rows.Scan(
			&e.EventID, &e.Timestamp, &e.SessionID, &e.ProcessName,
			&e.PID, &e.PPID, &action, &e.TargetPath, &e.CommandLine,
			&e.Hashes, &e.UserSID, &severity,
		); err != nil {
			return nil, 0, fmt.Errorf("SessionTimeline scan: %w", err)
		}
		e.Action = telemetry.Action(action)
		e.Severity = int(severity)
		events = append(events, e)
	}

	return events, int(total), rows.Err()
}

// ActionCount holds an action kind and its count.
type ActionCount struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

// TimeSeriesBucket holds an hourly event count.
type TimeSeriesBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// SessionSeverity holds a session and its peak severity.
type SessionSeverity struct {
	SessionID   string `json:"session_id"`
	MaxSeverity int    `json:"max_severity"`
	EventCount  int    `json:"event_count"`
}

// AnalyticsResult holds all dashboard rollups.
type AnalyticsResult struct {
	TotalEvents    int               `json:"total_events"`
	ActionCounts   []ActionCount     `json:"action_counts"`
	EventsOverTime []TimeSeriesBucket `json:"events_over_time"`
	TopSessions    []SessionSeverity `json:"top_sessions"`
}

// GetAnalytics returns aggregated telemetry rollups over the given number
// of days.
func (r *Reader) GetAnalytics(ctx context.Context, days int) (*AnalyticsResult, error) {
	rangeStart := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	baseArgs := []any{
		clickhouse.Named("range_start", rangeStart),
	}

	result := &AnalyticsResult{}

	var total uint64
	err := r.conn.QueryRow(ctx,
		"SELECT count() FROM malware_events WHERE timestamp >= @range_start",
		baseArgs...,
	).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics total: %w", err)
	}
	result.TotalEvents = int(total)

	actionRows, err := r.conn.Query(ctx,
		"SELECT action, count() as count "+
			"FROM malware_events WHERE timestamp >= @range_start "+
			"GROUP BY action ORDER BY count DESC",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics actions: %w", err)
	}
	defer func() { _ = actionRows.Close() }()
	for actionRows.Next() {
		var action string
		var count uint64
		if err := actionRows.Scan(&action, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics actions scan: %w", err)
		}
		result.ActionCounts = append(result.ActionCounts, ActionCount{
			Action: action, Count: int(count),
		})
	}

	hourRows, err := r.conn.Query(ctx,
		"SELECT toStartOfHour(timestamp) as hour, count() as count "+
			"FROM malware_events WHERE timestamp >= @range_start "+
			"GROUP BY hour ORDER BY hour",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics events_over_time: %w", err)
	}
	defer func() { _ = hourRows.Close() }()
	for hourRows.Next() {
		var hour time.Time
		var count uint64
		if err := hourRows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics events_over_time scan: %w", err)
		}
		result.EventsOverTime = append(result.EventsOverTime, TimeSeriesBucket{
			Hour:  hour.Format(time.RFC3339),
			Count: int(count),
		})
	}

	sessRows, err := r.conn.Query(ctx,
		"SELECT session_id, max(severity) as max_severity, count() as count "+
			"FROM malware_events WHERE timestamp >= @range_start "+
			"GROUP BY session_id ORDER BY max_severity DESC, count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_sessions: %w", err)
	}
	defer func() { _ = sessRows.Close() }()
	for sessRows.Next() {
		var sessionID string
		var maxSeverity int32
		var count uint64
		if err := sessRows.Scan(&sessionID, &maxSeverity, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_sessions scan: %w", err)
		}
		result.TopSessions = append(result.TopSessions, SessionSeverity{
			SessionID: sessionID, MaxSeverity: int(maxSeverity), EventCount: int(count),
		})
	}

	// Ensure slices are non-nil for JSON serialization
	if result.ActionCounts == nil {
		result.ActionCounts = []ActionCount{}
	}
	if result.EventsOverTime == nil {
		result.EventsOverTime = []TimeSeriesBucket{}
	}
	if result.TopSessions == nil {
		result.TopSessions = []SessionSeverity{}
	}

	return result, nil
}
