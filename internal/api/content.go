package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/clawkpit/internal/agentcontent"
	"github.com/kalambet/clawkpit/internal/storage"
)

func handlePush(deps AppDeps, typ storage.ContentType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p agentcontent.Push
		if !decodeBody(w, r, &p, false) {
			return
		}
		var (
			res agentcontent.Result
			err error
		)
		if typ == storage.ContentForm {
			res, err = deps.Content.PushForm(r.Context(), mustCaller(r), p)
		} else {
			res, err = deps.Content.PushMarkdown(r.Context(), mustCaller(r), p)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleGetContent(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := deps.Content.Content(r.Context(), mustCaller(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	}
}

type formResponseRequest struct {
	ItemID   string          `json:"itemId"`
	Response json.RawMessage `json:"response"`
}

func handleSubmitFormResponse(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req formResponseRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		id, err := deps.Content.SubmitFormResponse(r.Context(), mustCaller(r), chi.URLParam(r, "id"), req.ItemID, req.Response)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"responseId": id})
	}
}

func handleListFormResponses(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses, err := deps.Content.FormResponses(r.Context(), mustCaller(r), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, err)
			return
		}
		if responses == nil {
			responses = []storage.FormResponse{}
		}
		writeJSON(w, http.StatusOK, responses)
	}
}
