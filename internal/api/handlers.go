package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/clawkpit/internal/agentcontent"
	"github.com/kalambet/clawkpit/internal/auth"
	"github.com/kalambet/clawkpit/internal/board"
	"github.com/kalambet/clawkpit/internal/broadcast"
	"github.com/kalambet/clawkpit/internal/pairing"
	"github.com/kalambet/clawkpit/internal/storage"
)

const maxRequestBodySize = 10 << 20 // 10MB

type AppDeps struct {
	Auth    *auth.Service
	Board   *board.Service
	Content *agentcontent.Ingestor
	Pairing *pairing.Service
	Hub     *broadcast.Hub
	MCP     http.Handler // optional; mounted at /mcp
}

func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Post("/api/device/start", handleDeviceStart(deps))
	r.Post("/api/device/poll", handleDevicePoll(deps))

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(deps.Auth))

		r.With(RequireSession).Post("/api/device/confirm", handleDeviceConfirm(deps))
		r.Method(http.MethodGet, "/api/ws", wsHandler(deps))

		r.Get("/api/me", handleMe(deps))
		r.With(RequireSession).Post("/api/logout", handleLogout(deps))
		r.Route("/api/me/keys", func(r chi.Router) {
			r.Use(RequireSession)
			r.Get("/", handleListKeys(deps))
			r.Post("/", handleCreateKey(deps))
			r.Delete("/{id}", handleDeleteKey(deps))
		})

		r.Route("/api/v1", func(r chi.Router) {
			r.Post("/items", handleCreateItem(deps))
			r.Get("/items", handleListItems(deps))
			r.Post("/items/batch", handleBatch(deps))
			r.Get("/items/{id}", handleGetItem(deps))
			r.Patch("/items/{id}", handlePatchItem(deps))
			r.Post("/items/{id}/done", handleMarkDone(deps))
			r.Post("/items/{id}/drop", handleDrop(deps))
			r.Post("/items/{id}/notes", handleAddNote(deps))
			r.Get("/items/{id}/notes", handleListNotes(deps))
			r.Patch("/notes/{noteId}", handleEditNote(deps))

			r.Post("/markdown", handlePush(deps, storage.ContentMarkdown))
			r.Post("/forms", handlePush(deps, storage.ContentForm))
			r.Get("/content/{id}", handleGetContent(deps))
			r.Post("/forms/{id}/responses", handleSubmitFormResponse(deps))
			r.Get("/forms/{id}/responses", handleListFormResponses(deps))
		})

		if deps.MCP != nil {
			r.Handle("/mcp", deps.MCP)
		}
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// decodeBody reads a JSON body into v. An empty body is accepted when
// optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
	return false
}

func handleCreateItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in board.NewItem
		if !decodeBody(w, r, &in, false) {
			return
		}
		item, err := deps.Board.CreateItem(r.Context(), mustCaller(r), in)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
	}
}

func handleListItems(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lq, err := parseListQuery(r)
		if err != nil {
			writeError(w, err)
			return
		}
		page, err := deps.Board.ListItems(r.Context(), mustCaller(r), lq)
		if err != nil {
			writeError(w, err)
			return
		}
		if page.Items == nil {
			page.Items = []storage.Item{}
		}
		writeJSON(w, http.StatusOK, page)
	}
}

func parseListQuery(r *http.Request) (board.ListQuery, error) {
	q := r.URL.Query()
	lq := board.ListQuery{
		Status:     q.Get("status"),
		Tag:        q.Get("tag"),
		Urgency:    q.Get("urgency"),
		Importance: q.Get("importance"),
		CreatedBy:  q.Get("createdBy"),
		ModifiedBy: q.Get("modifiedBy"),
	}
	var err error
	if lq.Page, err = queryInt(q.Get("page"), "page"); err != nil {
		return lq, err
	}
	if lq.PageSize, err = queryInt(q.Get("pageSize"), "pageSize"); err != nil {
		return lq, err
	}
	if lq.DeadlineBefore, err = queryTime(q.Get("deadlineBefore"), "deadlineBefore"); err != nil {
		return lq, err
	}
	if lq.DeadlineAfter, err = queryTime(q.Get("deadlineAfter"), "deadlineAfter"); err != nil {
		return lq, err
	}
	return lq, nil
}

func queryInt(s, field string) (int, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, &board.ValidationError{Field: field, Reason: "must be an integer"}
	}
	return v, nil
}

func queryTime(s, field string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, &board.ValidationError{Field: field, Reason: "must be an RFC 3339 timestamp"}
	}
	return &t, nil
}

func handleGetItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := deps.Board.GetItem(r.Context(), mustCaller(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func handlePatchItem(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p board.Patch
		if !decodeBody(w, r, &p, false) {
			return
		}
		item, err := deps.Board.PatchItem(r.Context(), mustCaller(r), chi.URLParam(r, "id"), p)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

type batchRequest struct {
	Operations []board.BatchOp `json:"operations"`
}

func handleBatch(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		results, err := deps.Board.Batch(r.Context(), mustCaller(r), req.Operations)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}

type actorRequest struct {
	Actor board.Optional[storage.Actor] `json:"actor"`
	Note  string                        `json:"note"`
}

func handleMarkDone(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req actorRequest
		if !decodeBody(w, r, &req, true) {
			return
		}
		item, err := deps.Board.MarkDone(r.Context(), mustCaller(r), chi.URLParam(r, "id"), req.Actor)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

func handleDrop(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req actorRequest
		if !decodeBody(w, r, &req, true) {
			return
		}
		item, err := deps.Board.Drop(r.Context(), mustCaller(r), chi.URLParam(r, "id"), req.Actor, req.Note)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

type noteRequest struct {
	Author  board.Optional[storage.Actor] `json:"author"`
	Actor   board.Optional[storage.Actor] `json:"actor"`
	Content string                        `json:"content"`
}

func handleAddNote(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req noteRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		note, err := deps.Board.AddNote(r.Context(), mustCaller(r), chi.URLParam(r, "id"), req.Author, req.Content)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, note)
	}
}

func handleListNotes(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		notes, err := deps.Board.ListNotes(r.Context(), mustCaller(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		if notes == nil {
			notes = []storage.Note{}
		}
		writeJSON(w, http.StatusOK, notes)
	}
}

func handleEditNote(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req noteRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		note, err := deps.Board.EditNote(r.Context(), mustCaller(r), chi.URLParam(r, "noteId"), req.Actor, req.Content)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, note)
	}
}
