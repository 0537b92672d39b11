package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/clawkpit/internal/auth"
	"github.com/kalambet/clawkpit/internal/storage"
)

func handleMe(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller := mustCaller(r)
		u, err := deps.Auth.User(r.Context(), caller.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		kind := "session"
		if caller.Kind == auth.KindAgentKey {
			kind = "agent"
		}
		writeJSON(w, http.StatusOK, map[string]any{"user": u, "auth": kind})
	}
}

// handleLogout ends the session that authenticated the request.
func handleLogout(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Auth.EndSession(r.Context(), sessionID(r)); err != nil {
			writeError(w, err)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleListKeys(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := deps.Auth.ListKeys(r.Context(), mustCaller(r).UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		if keys == nil {
			keys = []storage.APIKey{}
		}
		writeJSON(w, http.StatusOK, keys)
	}
}

type createKeyRequest struct {
	Name string `json:"name"`
}

func handleCreateKey(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createKeyRequest
		if !decodeBody(w, r, &req, true) {
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			name = "agent"
		}
		id, plain, err := deps.Auth.MintKey(r.Context(), mustCaller(r).UserID, name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"id": id, "name": name, "key": plain})
	}
}

func handleDeleteKey(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Auth.RevokeKey(r.Context(), mustCaller(r).UserID, chi.URLParam(r, "id")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
