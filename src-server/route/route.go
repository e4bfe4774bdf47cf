package route

import (
	"net/http"

	"edusched/src-server/utils"
)

// NewMuxer registers every API route. /metrics is left to the caller.
func NewMuxer(as *utils.AppState) *http.ServeMux {
	muxer := http.NewServeMux()
	Events(muxer, as)
	Recurrence(muxer, as)
	Ical(muxer, as)
	Ping(muxer, as)
	return muxer
}
