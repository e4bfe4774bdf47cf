package route

import (
	"errors"
	"net/http"
	"time"

	"edusched/src-server/model"
	"edusched/src-server/recurrence"
	"edusched/src-server/utils"
)

func Recurrence(muxer *http.ServeMux, as *utils.AppState) {
	type ValidateRespBody struct {
		Valid       bool     `json:"valid"`
		Problems    []string `json:"problems"`
		Description string   `json:"description,omitempty"`
	}

	// check a rule from the rule builder before it is submitted
	muxer.HandleFunc("POST /recurrence/validate", func(w http.ResponseWriter, r *http.Request) {
		var rule model.RecurrenceRule
		if !decodeBody(w, r, &rule) {
			return
		}
		problems := as.Engine.ValidateRecurrenceRule(rule)
		respBody := ValidateRespBody{Valid: len(problems) == 0, Problems: problems}
		if respBody.Valid {
			respBody.Description = recurrence.Describe(rule)
		}
		writeJSON(w, http.StatusOK, respBody)
	})

	type PreviewReqBody struct {
		AnchorStart time.Time            `json:"anchorStart"`
		AnchorEnd   time.Time            `json:"anchorEnd"`
		Timezone    string               `json:"timezone"`
		Rule        model.RecurrenceRule `json:"rule"`
		// HorizonEnd defaults to the configured horizon after the anchor.
		HorizonEnd time.Time `json:"horizonEnd"`
	}

	type PreviewOccurrence struct {
		StartTime time.Time `json:"startTime"`
		EndTime   time.Time `json:"endTime"`
	}

	type PreviewRespBody struct {
		Description string              `json:"description"`
		Occurrences []PreviewOccurrence `json:"occurrences"`
	}

	// expand a rule without saving anything
	muxer.HandleFunc("POST /recurrence/preview", func(w http.ResponseWriter, r *http.Request) {
		var reqBody PreviewReqBody
		if !decodeBody(w, r, &reqBody) {
			return
		}
		if problems := as.Engine.ValidateRecurrenceRule(reqBody.Rule); len(problems) > 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid recurrence rule", Problems: problems})
			return
		}
		anchorStart, anchorEnd := reqBody.AnchorStart, reqBody.AnchorEnd
		if reqBody.Timezone != "" {
			loc, err := time.LoadLocation(reqBody.Timezone)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown timezone " + reqBody.Timezone})
				return
			}
			anchorStart, anchorEnd = anchorStart.In(loc), anchorEnd.In(loc)
		}

		occs, err := as.Engine.GenerateOccurrences(anchorStart, anchorEnd, reqBody.Rule, reqBody.HorizonEnd)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, recurrence.ErrTooManyOccurrences) {
				status = http.StatusUnprocessableEntity
			}
			writeJSON(w, status, errorBody{Error: err.Error()})
			return
		}

		respBody := PreviewRespBody{
			Description: recurrence.Describe(reqBody.Rule),
			Occurrences: make([]PreviewOccurrence, 0, len(occs)),
		}
		for _, occ := range occs {
			respBody.Occurrences = append(respBody.Occurrences, PreviewOccurrence{StartTime: occ.Start, EndTime: occ.End})
		}
		writeJSON(w, http.StatusOK, respBody)
	})
}
