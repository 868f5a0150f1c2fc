package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/playsem-core/internal/activity"
)

// handleQueryActivity returns activity records, oldest first unless
// order=desc.
//
// Query parameters:
//   - effectId, deviceId, outcome, reason: exact match filters
//   - since: RFC 3339 timestamp
//   - limit: maximum records (capped by the log)
//   - order: asc (default) or desc
func (s *Server) handleQueryActivity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := activity.Filter{
		EffectID:   q.Get("effectId"),
		DeviceID:   q.Get("deviceId"),
		Outcome:    activity.Outcome(q.Get("outcome")),
		Reason:     q.Get("reason"),
		Descending: q.Get("order") == "desc",
	}

	switch f.Outcome {
	case "", activity.OutcomeDelivered, activity.OutcomeFailed, activity.OutcomeDropped:
	default:
		writeBadRequest(w, "outcome must be delivered, failed or dropped")
		return
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		f.Limit = n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeBadRequest(w, "since must be an RFC 3339 timestamp")
			return
		}
		f.Since = t
	}

	records := s.activity.Query(f)
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}
