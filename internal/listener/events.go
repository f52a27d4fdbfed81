package listener

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/eeca-nz/evroam-ingest/internal/logging"
	"github.com/eeca-nz/evroam-ingest/internal/pipeline"
)

// validationEventType is the handshake event the grid sends when a
// subscription is created. It must be answered with the echoed
// validation code before any data events are delivered.
const validationEventType = "Microsoft.EventGrid.SubscriptionValidationEvent"

// event is the envelope data events arrive in. Deliveries are arrays;
// only the fields the listener acts on are decoded.
type event struct {
	EventType string          `json:"eventType"`
	Subject   string          `json:"subject"`
	Data      json.RawMessage `json:"data"`
}

type validationData struct {
	ValidationCode string `json:"validationCode"`
}

type eventData struct {
	URL string `json:"url"`
}

// eventResult summarizes the ingestion of one data event for the
// response body.
type eventResult struct {
	Subject string `json:"subject,omitempty"`
	Entity  string `json:"entity,omitempty"`
	Records int    `json:"records"`
	Invalid int    `json:"invalid"`
	Failed  int    `json:"failed"`
	Error   string `json:"error,omitempty"`
}

// handleEvents processes one webhook delivery. A subscription
// validation event is answered immediately with the echoed code; data
// events have their payload fetched and run through the pipeline.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}

	events, err := decodeEvents(body)
	if err != nil {
		log.Warn("undecodable webhook delivery", "error", err)
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid event payload"})
		return
	}

	// The handshake arrives alone; answer it before anything else.
	for _, ev := range events {
		if ev.EventType == validationEventType {
			var vd validationData
			if err := json.Unmarshal(ev.Data, &vd); err != nil || vd.ValidationCode == "" {
				respondJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid validation event"})
				return
			}
			log.Info("subscription validation answered")
			respondJSON(w, http.StatusOK, map[string]string{"validationResponse": vd.ValidationCode})
			return
		}
	}

	results := make([]eventResult, 0, len(events))
	status := http.StatusOK
	for _, ev := range events {
		res, code := s.ingestEvent(r, ev)
		results = append(results, res)
		if code > status {
			status = code
		}
	}
	respondJSON(w, status, map[string]any{"results": results})
}

// ingestEvent fetches and pipelines one data event. The returned status
// code distinguishes retryable failures (5xx, the grid redelivers) from
// permanent ones (4xx, redelivery would fail the same way).
func (s *Server) ingestEvent(r *http.Request, ev event) (eventResult, int) {
	log := logging.FromContext(r.Context())
	res := eventResult{Subject: ev.Subject}

	var data eventData
	if err := json.Unmarshal(ev.Data, &data); err != nil || data.URL == "" {
		res.Error = "event data has no url"
		return res, http.StatusBadRequest
	}

	raws, err := s.fetchPayload(r, data.URL)
	if err != nil {
		log.Error("event payload fetch failed", "subject", ev.Subject, "error", err)
		res.Error = fmt.Sprintf("fetch payload: %v", err)
		return res, http.StatusBadGateway
	}

	report, err := s.pipeline.ProcessRaw(r.Context(), data.URL, raws)
	if err != nil {
		var uc *pipeline.UnclassifiableError
		if errors.As(err, &uc) {
			log.Warn("unclassifiable record set", "subject", ev.Subject, "hint", data.URL)
			res.Error = uc.Error()
			return res, http.StatusUnprocessableEntity
		}
		log.Error("event ingest failed", "subject", ev.Subject, "error", err)
		res.Error = err.Error()
		return res, http.StatusInternalServerError
	}

	res.Records = report.Records()
	res.Failed = report.Failed()
	for _, set := range report.Sets {
		res.Invalid += set.Invalid
		if res.Entity == "" {
			res.Entity = set.Entity
		}
	}

	// A non-empty set where nothing had an upsert identity means the
	// feed's columns do not carry the natural key at all.
	if len(raws) > 0 && res.Records == 0 && res.Invalid > 0 {
		res.Error = "no record carries the natural key"
		return res, http.StatusUnprocessableEntity
	}
	return res, http.StatusOK
}

// fetchPayload retrieves the record set a data event points at. The
// payload is either a JSON array of records or a single record object.
func (s *Server) fetchPayload(r *http.Request, url string) ([]map[string]any, error) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.EventFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.fetcher.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		return nil, err
	}
	return decodeRecords(body)
}

// decodeEvents accepts both the delivery array and a bare event object.
func decodeEvents(body []byte) ([]event, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var events []event
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, err
		}
		return events, nil
	}
	var ev event
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return nil, err
	}
	return []event{ev}, nil
}

func decodeRecords(body []byte) ([]map[string]any, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []map[string]any
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("decode record array: %w", err)
		}
		return records, nil
	}
	var record map[string]any
	if err := json.Unmarshal(trimmed, &record); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return []map[string]any{record}, nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
