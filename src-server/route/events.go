package route

import (
	"net/http"
	"strings"
	"time"

	"edusched/src-server/conflict"
	"edusched/src-server/engine"
	"edusched/src-server/model"
	"edusched/src-server/utils"
)

func Events(muxer *http.ServeMux, as *utils.AppState) {
	type CreateEventReqBody struct {
		engine.NewEvent
		// StartText is read with the natural-language parser when
		// startTime is not given, e.g. "next monday at 9am".
		StartText string `json:"startText"`
		// DurationMinutes fills endTime when it is not given.
		DurationMinutes int `json:"durationMinutes"`
	}

	// create an event, the response carries the event and any warnings
	muxer.HandleFunc("POST /tenants/{tenant}/events", UserMiddleware(
		func(w http.ResponseWriter, r *http.Request) {
			var reqBody CreateEventReqBody
			if !decodeBody(w, r, &reqBody) {
				return
			}
			in := reqBody.NewEvent
			in.TenantID = r.PathValue("tenant")
			in.CreatedBy = userOf(r)

			// #region - natural-language start
			if in.StartTime.IsZero() && strings.TrimSpace(reqBody.StartText) != "" {
				loc := as.Config.GetLocation()
				if tz, err := time.LoadLocation(strings.TrimSpace(in.Timezone)); err == nil && in.Timezone != "" {
					loc = tz
				}
				parsed, err := as.When.Parse(reqBody.StartText, time.Now().In(loc))
				if err != nil || parsed == nil {
					writeJSON(w, http.StatusBadRequest, errorBody{Error: "can't read a time from startText"})
					return
				}
				in.StartTime = parsed.Time
			}
			if in.EndTime.IsZero() && reqBody.DurationMinutes > 0 && !in.StartTime.IsZero() {
				in.EndTime = in.StartTime.Add(time.Duration(reqBody.DurationMinutes) * time.Minute)
			}
			// #endregion

			res, err := as.Engine.CreateEvent(r.Context(), in)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, res)
		}))

	// list what the calendar shows in [start, end), RFC 3339 bounds
	muxer.HandleFunc("GET /tenants/{tenant}/events", func(w http.ResponseWriter, r *http.Request) {
		start, end, ok := rangeOf(w, r)
		if !ok {
			return
		}
		occs, err := as.Engine.GetEventsInRange(r.Context(), r.PathValue("tenant"), start, end)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, occs)
	})

	type CheckReqBody struct {
		EventID        string            `json:"eventId"`
		Title          string            `json:"title"`
		StartTime      time.Time         `json:"startTime"`
		EndTime        time.Time         `json:"endTime"`
		EventType      model.EventType   `json:"eventType"`
		Timezone       string            `json:"timezone"`
		AcademicYearID string            `json:"academicYearId"`
		TermID         string            `json:"termId"`
		Metadata       map[string]string `json:"metadata"`
	}

	// dry-run the conflict detector for one slot
	muxer.HandleFunc("POST /tenants/{tenant}/conflicts", func(w http.ResponseWriter, r *http.Request) {
		var reqBody CheckReqBody
		if !decodeBody(w, r, &reqBody) {
			return
		}
		if reqBody.StartTime.IsZero() || !reqBody.StartTime.Before(reqBody.EndTime) {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "startTime must be before endTime"})
			return
		}
		start, end := reqBody.StartTime, reqBody.EndTime
		if reqBody.Timezone != "" {
			loc, err := time.LoadLocation(reqBody.Timezone)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown timezone " + reqBody.Timezone})
				return
			}
			start, end = start.In(loc), end.In(loc)
		}
		found, err := as.Engine.CheckConflicts(r.Context(), conflict.Candidate{
			EventID:   reqBody.EventID,
			TenantID:  r.PathValue("tenant"),
			Title:     reqBody.Title,
			Start:     start,
			End:       end,
			EventType: reqBody.EventType,
			TermID:    reqBody.TermID,
			Resource:  engine.ResourceOf(reqBody.Metadata),
		}, reqBody.AcademicYearID)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, found)
	})

	muxer.HandleFunc("GET /events/{id}", func(w http.ResponseWriter, r *http.Request) {
		ev, err := as.Engine.GetEvent(r.Context(), r.PathValue("id"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ev)
	})

	muxer.HandleFunc("PATCH /events/{id}", UserMiddleware(
		func(w http.ResponseWriter, r *http.Request) {
			var patch engine.EventPatch
			if !decodeBody(w, r, &patch) {
				return
			}
			res, err := as.Engine.UpdateEvent(r.Context(), r.PathValue("id"), patch)
			if err != nil {
				writeEngineError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, res)
		}))

	// an event id removes the whole series, an instance id just that instance
	muxer.HandleFunc("DELETE /events/{id}", UserMiddleware(
		func(w http.ResponseWriter, r *http.Request) {
			if err := as.Engine.DeleteEvent(r.Context(), r.PathValue("id")); err != nil {
				writeEngineError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}))

	type StatusReqBody struct {
		Status model.Status `json:"status"`
	}

	muxer.HandleFunc("POST /events/{id}/status", UserMiddleware(
		func(w http.ResponseWriter, r *http.Request) {
			var reqBody StatusReqBody
			if !decodeBody(w, r, &reqBody) {
				return
			}
			if err := as.Engine.TransitionStatus(r.Context(), r.PathValue("id"), reqBody.Status); err != nil {
				writeEngineError(w, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		}))

	type TimeRespBody struct {
		Text     string `json:"text"`
		Timezone string `json:"timezone"`
	}

	// render an event or instance on a viewer's clock; tz defaults to the
	// event's own zone
	muxer.HandleFunc("GET /events/{id}/time", func(w http.ResponseWriter, r *http.Request) {
		occ, err := as.Engine.GetOccurrence(r.Context(), r.PathValue("id"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		tz := r.URL.Query().Get("tz")
		if tz == "" {
			tz = occ.Timezone
		}
		writeJSON(w, http.StatusOK, TimeRespBody{
			Text:     engine.FormatSpan(occ.StartTime, occ.EndTime, tz),
			Timezone: tz,
		})
	})

	// roll recurring series forward now instead of waiting for the cron job
	muxer.HandleFunc("POST /horizon/extend", func(w http.ResponseWriter, r *http.Request) {
		res, err := as.Engine.ExtendHorizon(r.Context(), r.URL.Query().Get("tenant"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	})
}

func rangeOf(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	q := r.URL.Query()
	if q.Get("start") == "" || q.Get("end") == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "please provide a start and end"})
		return time.Time{}, time.Time{}, false
	}
	start, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "start is not an RFC 3339 time"})
		return time.Time{}, time.Time{}, false
	}
	end, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "end is not an RFC 3339 time"})
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}
