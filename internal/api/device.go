package api

import (
	"net/http"

	"github.com/kalambet/clawkpit/internal/pairing"
)

type deviceStartRequest struct {
	Email string `json:"email"`
}

type devicePollRequest struct {
	DeviceCode string `json:"device_code"`
}

type deviceConfirmRequest struct {
	DisplayCode string `json:"display_code"`
}

func handleDeviceStart(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deviceStartRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		res, err := deps.Pairing.Start(r.Context(), req.Email)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleDevicePoll(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req devicePollRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		res, err := deps.Pairing.Poll(r.Context(), req.DeviceCode)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleDeviceConfirm(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req deviceConfirmRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		err := deps.Pairing.Confirm(r.Context(), pairing.ConfirmRequest{
			DisplayCode: req.DisplayCode,
			UserID:      mustCaller(r).UserID,
			RemoteAddr:  clientAddr(r),
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "authorized"})
	}
}
