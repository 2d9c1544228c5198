package server

import (
	"net/http"

	"github.com/lazypower/recall/internal/engine"
)

func (s *Server) handlePrompt(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Base           string `json:"base"`
		ConversationID string `json:"conversation_id"`
	}
	if !decode(w, r, &req) {
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"prompt": s.eng.ApplyToPrompt(r.Context(), req.Base, req.ConversationID),
	})
}

// handleContext returns the memory block for a conversation both rendered
// and as structured sections.
func (s *Server) handleContext(w http.ResponseWriter, r *http.Request) {
	sections := s.eng.Sections(r.Context(), r.URL.Query().Get("conversation_id"))

	type sectionJSON struct {
		Title string   `json:"title"`
		Facts []string `json:"facts"`
	}
	out := make([]sectionJSON, len(sections))
	for i, sec := range sections {
		facts := make([]string, len(sec.Records))
		for j, rec := range sec.Records {
			facts[j] = rec.Content
		}
		out[i] = sectionJSON{Title: sec.Title, Facts: facts}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"context":  engine.Render(sections),
		"sections": out,
	})
}
