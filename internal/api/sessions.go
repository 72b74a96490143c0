package api

import (
	"errors"
	"net/http"
	"strconv"
	"net/url"

	"github.com/helix-sec/crucible/internal/lifecycle"
	"github.com/helix-sec/crucible/internal/report"
	"github.com/helix-sec/crucible/internal/telemetry"
	"go.uber.org/zap"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (d *Dependencies) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r.URL.Query(), "limit", defaultListLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	events, err := d.Events.RecentEvents(r.Context(), limit)
	if err != nil {
		d.Logger.Error("recent events query failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list events"})
		return
	}
	if events == nil {
		events = []telemetry.Event{}
	}

	writeJSON(w, http.StatusOK, RecentEventsResp{Events: events, Count: len(events)})
}

func (d *Dependencies) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	rawStatus := q.Get("status")
	if rawStatus == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "status query parameter is required"})
		return
	}
	status := lifecycle.Status(rawStatus)
	if !status.Valid() {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "unknown status"})
		return
	}

	limit := queryInt(q, "limit", defaultListLimit)
	if limit < 1 {
		limit = 1
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	jobs := d.Recorder.Status().SessionsWithStatus(status, limit)
	resp := SessionListResp{Sessions: make([]SessionSummary, 0, len(jobs)), Count: len(jobs)}
	for _, j := range jobs {
		resp.Sessions = append(resp.Sessions, SessionSummary{
			SessionID:   j.SessionID,
			Status:      string(j.Status),
			LastUpdated: j.LastUpdated,
			Details:     j.Details,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	js, err := d.Recorder.Status().JobStatus(sessionID)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Session not found."})
			return
		}
		d.Logger.Error("status lookup failed", zap.String("session_id", sessionID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to look up status"})
		return
	}

	writeJSON(w, http.StatusOK, js)
}

func (d *Dependencies) handleSessionFeatures(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	vector, ok := d.Engine.Vector(sessionID)
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Session not found."})
		return
	}

	writeJSON(w, http.StatusOK, vector)
}

func (d *Dependencies) handleSessionReport(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	latest, err := d.Reports.Latest(sessionID)
	if err != nil {
		if errors.Is(err, report.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "No report for session."})
			return
		}
		d.Logger.Error("report lookup failed", zap.String("session_id", sessionID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to look up report"})
		return
	}

	writeJSON(w, http.StatusOK, latest)
}

func queryInt(q url.Values, key string, defaultVal int) int {
	v := q.Get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}
