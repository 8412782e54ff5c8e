package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// handleJobEvents はスナップショットのライブストリームをSSEで配信します。
// 接続直後に現在のスナップショットを1件送り、以後は更新毎に送る。
// ジョブの終端でストリームを閉じる。
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID, err := parseJobID(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "streaming unsupported"})
		return
	}

	ch, err := s.service.Watch(r.Context(), jobID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for snap := range ch {
		data, merr := json.Marshal(snap)
		if merr != nil {
			s.logger.Error("スナップショットのシリアライズに失敗しました",
				"job_id", jobID, "error", merr)
			return
		}
		if _, werr := fmt.Fprintf(w, "event: status\ndata: %s\n\n", data); werr != nil {
			return
		}
		flusher.Flush()
	}
}
