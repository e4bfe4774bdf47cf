package route

import (
	"log/slog"
	"net/http"

	"edusched/src-server/utils"
)

func Ping(muxer *http.ServeMux, as *utils.AppState) {
	type PingRespBody struct {
		Status       string `json:"status"`
		StoreLatency string `json:"storeLatency"`
	}

	muxer.HandleFunc("GET /ping", func(w http.ResponseWriter, r *http.Request) {
		latency, err := as.Store.Ping(r.Context())
		if err != nil {
			slog.Error("can't ping store", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "store unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, PingRespBody{Status: "ok", StoreLatency: latency.String()})
	})
}
