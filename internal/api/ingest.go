package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/helix-sec/crucible/internal/auth"
	"github.com/helix-sec/crucible/internal/eventstore"
	"github.com/helix-sec/crucible/internal/lifecycle"
	"github.com/helix-sec/crucible/internal/metrics"
	"github.com/helix-sec/crucible/internal/telemetry"
	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// maxIngestBody bounds one ingest request after decompression.
const maxIngestBody = 32 << 20

// handleIngestEvents accepts a single event object or an NDJSON batch,
// optionally gzip-compressed. Each event is absorbed independently so a
// conflict or validation failure never blocks the rest of the batch.
func (d *Dependencies) handleIngestEvents(w http.ResponseWriter, r *http.Request) {
	body, err := requestBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Malformed request body"})
		return
	}
	defer func() { _ = body.Close() }()

	producer := producerFromContext(r.Context())

	resp := IngestResp{Results: []EventResult{}}
	dec := json.NewDecoder(io.LimitReader(body, maxIngestBody))

	for {
		var event telemetry.Event
		if err := dec.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Malformed event JSON"})
			return
		}
		resp.record(d.ingestOne(r, &event, producer))
	}

	if len(resp.Results) == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Empty batch"})
		return
	}

	status := http.StatusOK
	switch {
	case resp.Conflicts > 0:
		status = http.StatusConflict
	case resp.Stored > 0:
		status = http.StatusCreated
	}
	writeJSON(w, status, resp)
}

func (d *Dependencies) ingestOne(r *http.Request, event *telemetry.Event, producer *auth.ProducerContext) EventResult {
	if detail := validateEvent(event); detail != "" {
		metrics.EventsIngested.WithLabelValues("invalid").Inc()
		return EventResult{EventID: event.EventID, Outcome: "invalid", Detail: detail}
	}

	event.Severity = telemetry.ClampSeverity(event.Severity)

	outcome, err := d.Events.Append(r.Context(), event)
	if err != nil {
		if errors.Is(err, eventstore.ErrConflictingEvent) {
			metrics.EventsIngested.WithLabelValues("conflict").Inc()
			return EventResult{
				EventID: event.EventID,
				Outcome: "conflict",
				Detail:  "event id already stored with a different payload",
			}
		}
		d.Logger.Error("event append failed",
			zap.String("event_id", event.EventID),
			zap.String("producer", producerID(producer)),
			zap.Error(err))
		metrics.EventsIngested.WithLabelValues("error").Inc()
		return EventResult{EventID: event.EventID, Outcome: "error", Detail: "storage failure"}
	}

	if outcome == eventstore.OutcomeStored {
		// The engine fold happens synchronously so the producer's next read
		// of the feature vector already reflects this event.
		d.Engine.Apply(event)
		d.Writer.Write(event)
	}

	metrics.EventsIngested.WithLabelValues(outcome.String()).Inc()
	return EventResult{EventID: event.EventID, Outcome: outcome.String()}
}

// handleIngestLifecycle appends one lifecycle transition.
func (d *Dependencies) handleIngestLifecycle(w http.ResponseWriter, r *http.Request) {
	body, err := requestBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Malformed request body"})
		return
	}
	defer func() { _ = body.Close() }()

	var req TransitionReq
	if err := json.NewDecoder(io.LimitReader(body, maxIngestBody)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Malformed transition JSON"})
		return
	}

	t := lifecycle.Transition{
		SessionID: req.SessionID,
		Status:    lifecycle.Status(req.Status),
		Timestamp: req.Timestamp,
		Details:   req.Details,
	}
	if err := d.Recorder.Record(r.Context(), t); err != nil {
		if errors.Is(err, lifecycle.ErrInvalidTransition) {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
			return
		}
		d.Logger.Error("transition append failed", zap.String("session_id", req.SessionID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to record transition"})
		return
	}

	metrics.TransitionsRecorded.WithLabelValues(req.Status).Inc()
	writeJSON(w, http.StatusAccepted, TransitionResp{SessionID: req.SessionID, Status: req.Status})
}

func (r *IngestResp) record(res EventResult) {
	r.Results = append(r.Results, res)
	switch res.Outcome {
	case "stored":
		r.Stored++
	case "duplicate":
		r.Duplicates++
	case "conflict":
		r.Conflicts++
	case "invalid":
		r.Invalid++
	}
}

func validateEvent(e *telemetry.Event) string {
	switch {
	case e.EventID == "":
		return "event_id is required"
	case e.SessionID == "":
		return "session_id is required"
	case e.Timestamp.IsZero():
		return "timestamp is required"
	case !e.Action.Valid():
		return "unknown action"
	}
	return ""
}

func producerID(p *auth.ProducerContext) string {
	if p == nil {
		return ""
	}
	return p.ProducerID
}

// requestBody returns the request body, transparently decompressing
// gzip-encoded payloads.
func requestBody(r *http.Request) (io.ReadCloser, error) {
	if r.Header.Get("Content-Encoding") != "gzip" {
		return r.Body, nil
	}
	gz, err := gzip.NewReader(r.Body)
	if err != nil {
		return nil, err
	}
	return gz, nil
}
