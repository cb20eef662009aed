package handlers

import (
	"net/http"
	"strconv"

	"github.com/goccy/go-json"

	"chatforum/internal/models"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(b)
}

func (h *Handler) syncError(w http.ResponseWriter, r *http.Request, err error) {
	h.logError(r, err)
	writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
}

func badID(w http.ResponseWriter) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid id"})
}

// SyncMessages returns chat messages newer than the watermark.
func (h *Handler) SyncMessages(w http.ResponseWriter, r *http.Request) {
	lastID, ok := pathID(r, "lastID")
	if !ok {
		badID(w)
		return
	}
	msgs, err := h.store.MessagesAfter(r.Context(), lastID)
	if err != nil {
		h.syncError(w, r, err)
		return
	}
	out := make([]models.MessageRecord, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Record())
	}
	writeJSON(w, http.StatusOK, out)
}

// SyncTopics returns topics newer than the watermark.
func (h *Handler) SyncTopics(w http.ResponseWriter, r *http.Request) {
	lastID, ok := pathID(r, "lastID")
	if !ok {
		badID(w)
		return
	}
	topics, err := h.store.TopicsAfter(r.Context(), lastID)
	if err != nil {
		h.syncError(w, r, err)
		return
	}
	out := make([]models.TopicRecord, 0, len(topics))
	for _, t := range topics {
		out = append(out, t.Record())
	}
	writeJSON(w, http.StatusOK, out)
}

// SyncPosts returns posts of one topic newer than the watermark. An unknown
// topic simply has no posts.
func (h *Handler) SyncPosts(w http.ResponseWriter, r *http.Request) {
	topicID, ok1 := pathID(r, "topicID")
	lastID, ok2 := pathID(r, "lastID")
	if !ok1 || !ok2 {
		badID(w)
		return
	}
	posts, err := h.store.PostsAfter(r.Context(), topicID, lastID)
	if err != nil {
		h.syncError(w, r, err)
		return
	}
	out := make([]models.PostRecord, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.Record())
	}
	writeJSON(w, http.StatusOK, out)
}

// SyncLikes returns the current like count of every post in the topic,
// keyed by post id.
func (h *Handler) SyncLikes(w http.ResponseWriter, r *http.Request) {
	topicID, ok := pathID(r, "topicID")
	if !ok {
		badID(w)
		return
	}
	counts, err := h.store.LikeCounts(r.Context(), topicID)
	if err != nil {
		h.syncError(w, r, err)
		return
	}
	out := make(map[string]int, len(counts))
	for id, n := range counts {
		out[strconv.FormatInt(id, 10)] = n
	}
	writeJSON(w, http.StatusOK, out)
}
