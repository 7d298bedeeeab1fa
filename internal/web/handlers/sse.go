package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
)

// Stream event types
const (
	eventProgress = "progress"
	eventComplete = "complete"
)

// eventWriter delivers typed events to a streaming client.
type eventWriter interface {
	send(eventType string, data any)
}

// sseWriter writes text/event-stream frames.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sseWriter) send(eventType string, data any) {
	sendSSEEvent(s.w, s.flusher, eventType, data)
}

// ndjsonWriter writes one JSON object per line with a "type" member.
type ndjsonWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (n *ndjsonWriter) send(eventType string, data any) {
	payload, _ := json.Marshal(data)
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil || obj == nil {
		obj = map[string]json.RawMessage{"data": payload}
	}
	obj["type"], _ = json.Marshal(eventType)
	line, _ := json.Marshal(obj)
	_, _ = n.w.Write(append(line, '\n'))
	n.flusher.Flush()
}

func wantsSSE(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

// openStream sets streaming headers for the format the client asked for.
// On failure it writes an error response and returns false.
func openStream(w http.ResponseWriter, r *http.Request) (eventWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}

	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	if wantsSSE(r) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		return &sseWriter{w: w, flusher: flusher}, true
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &ndjsonWriter{w: w, flusher: flusher}, true
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}
