package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/store"
)

func (s *Server) handleAddMessage(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "conversationID")

	var req struct {
		ID          string `json:"id"`
		AssistantID string `json:"assistant_id"`
		Role        string `json:"role"`
		Content     string `json:"content"`
	}
	if !decode(w, r, &req) {
		return
	}

	msg, err := s.eng.AddMessage(r.Context(), convID, req.AssistantID, store.Message{
		ID:      req.ID,
		Role:    req.Role,
		Content: req.Content,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "conversationID")

	results, err := s.eng.AnalyzeConversation(r.Context(), convID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": convID,
		"summary":         engine.Summary(results),
		"results":         results,
	})
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "conversationID")

	recs, err := s.eng.Recommend(r.Context(), convID, limitParam(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": convID,
		"count":           len(recs),
		"recommendations": stripEmbeddings(recs),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		badRequest(w, "q parameter required")
		return
	}

	recs := s.eng.RecommendForQuery(r.Context(), query, limitParam(r))
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"count":   len(recs),
		"results": stripEmbeddings(recs),
	})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	var recs []store.Record
	if t := r.URL.Query().Get("tier"); t != "" {
		tier, err := store.ParseTier(t)
		if err != nil {
			badRequest(w, err.Error())
			return
		}
		recs = s.eng.Store.Records(tier, r.URL.Query().Get("scope"))
	} else {
		recs = s.eng.Store.All()
	}
	for i := range recs {
		recs[i].Embedding = nil
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(recs),
		"records": recs,
	})
}

func (s *Server) handleAddRecord(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content  string `json:"content"`
		Tier     string `json:"tier"`
		Scope    string `json:"scope"`
		Category string `json:"category"`
	}
	if !decode(w, r, &req) {
		return
	}
	tier, err := store.ParseTier(req.Tier)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	rec, err := s.eng.AddRecord(r.Context(), req.Content, tier, req.Scope, req.Category)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rec.Embedding = nil
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "recordID")
	if err := s.eng.DeleteRecord(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

func (s *Server) handleResetWatermarks(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Tier  string `json:"tier"`
		Scope string `json:"scope"`
	}
	if !decode(w, r, &req) {
		return
	}
	tier, err := store.ParseTier(req.Tier)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	n, err := s.eng.ResetAnalysisWatermarks(r.Context(), tier, req.Scope)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reset": n})
}

func (s *Server) handleLists(w http.ResponseWriter, r *http.Request) {
	lists := s.eng.Store.Lists()
	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(lists),
		"lists": lists,
	})
}

func (s *Server) handleCreateList(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decode(w, r, &req) {
		return
	}
	l, err := s.eng.Store.CreateList(r.Context(), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (s *Server) handleSetListActive(active bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "listID")
		if err := s.eng.Store.SetListActive(r.Context(), id, active); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": id, "is_active": active})
	}
}

func (s *Server) handleDeleteList(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "listID")
	n, err := s.eng.Store.DeleteList(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "id": id, "records_removed": n})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	n, ran := s.eng.RefreshDecay(r.Context(), force)
	writeJSON(w, http.StatusOK, map[string]any{"ran": ran, "updated": n})
}

// stripEmbeddings drops vectors from API output without touching the
// engine's cached slice.
func stripEmbeddings(recs []engine.Recommendation) []engine.Recommendation {
	out := make([]engine.Recommendation, len(recs))
	for i, rec := range recs {
		rec.Record.Embedding = nil
		out[i] = rec
	}
	return out
}
