package api

import (
	"net/http"
	"strconv"
	"testing"

	"github.com/kalambet/clawkpit/internal/pairing"
)

func TestDeviceFlow(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/device/start", `{"email":"nobody@example.com"}`, anonymous)
	expectStatus(t, rr, http.StatusNotFound)
	if code := errorCode(t, rr); code != "USER_NOT_FOUND" {
		t.Errorf("code = %q", code)
	}

	rr = env.do(t, http.MethodPost, "/api/device/start", `{"email":" Alice@Example.com "}`, anonymous)
	expectStatus(t, rr, http.StatusOK)
	start := decode[pairing.StartResult](t, rr)
	if start.DisplayCode == "" || start.DeviceCode == "" || start.Interval != 3 {
		t.Fatalf("start = %+v", start)
	}

	poll := `{"device_code":"` + start.DeviceCode + `"}`
	rr = env.do(t, http.MethodPost, "/api/device/poll", poll, anonymous)
	expectStatus(t, rr, http.StatusOK)
	if res := decode[pairing.PollResult](t, rr); res.Status != "pending" || res.Credential != "" {
		t.Errorf("poll before confirm = %+v", res)
	}

	confirm := `{"display_code":"` + start.DisplayCode + `"}`
	rr = env.do(t, http.MethodPost, "/api/device/confirm", confirm, anonymous)
	expectStatus(t, rr, http.StatusUnauthorized)
	rr = env.do(t, http.MethodPost, "/api/device/confirm", confirm, asAgent(env.aliceKey))
	expectStatus(t, rr, http.StatusForbidden)

	rr = env.do(t, http.MethodPost, "/api/device/confirm", confirm, asSession(env.aliceSession))
	expectStatus(t, rr, http.StatusOK)

	rr = env.do(t, http.MethodPost, "/api/device/confirm", confirm, asSession(env.aliceSession))
	expectStatus(t, rr, http.StatusBadRequest)
	if code := errorCode(t, rr); code != "CODE_ALREADY_USED" {
		t.Errorf("code = %q", code)
	}

	// The pending poll above consumed this interval's token.
	rr = env.do(t, http.MethodPost, "/api/device/poll", poll, anonymous)
	expectStatus(t, rr, http.StatusTooManyRequests)
	if code := errorCode(t, rr); code != "RATE_LIMITED" {
		t.Errorf("code = %q", code)
	}
	secs, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	if err != nil || secs < 1 || secs > 3 {
		t.Errorf("Retry-After = %q", rr.Header().Get("Retry-After"))
	}
}

func TestDeviceFlow_CredentialWorks(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/device/start", `{"email":"alice@example.com"}`, anonymous)
	expectStatus(t, rr, http.StatusOK)
	start := decode[pairing.StartResult](t, rr)

	rr = env.do(t, http.MethodPost, "/api/device/confirm", `{"display_code":"`+start.DisplayCode+`"}`, asSession(env.aliceSession))
	expectStatus(t, rr, http.StatusOK)

	poll := `{"device_code":"` + start.DeviceCode + `"}`
	rr = env.do(t, http.MethodPost, "/api/device/poll", poll, anonymous)
	expectStatus(t, rr, http.StatusOK)
	res := decode[pairing.PollResult](t, rr)
	if res.Status != "authorized" || res.Credential == "" {
		t.Fatalf("poll = %+v", res)
	}

	rr = env.do(t, http.MethodGet, "/api/me", "", asAgent(res.Credential))
	expectStatus(t, rr, http.StatusOK)
	me := decode[map[string]any](t, rr)
	if me["auth"] != "agent" {
		t.Errorf("auth = %v", me["auth"])
	}
}

func TestDeviceErrors(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, http.MethodPost, "/api/device/poll", `{"device_code":"nope"}`, anonymous)
	expectStatus(t, rr, http.StatusNotFound)
	if code := errorCode(t, rr); code != "INVALID_DEVICE_CODE" {
		t.Errorf("code = %q", code)
	}

	rr = env.do(t, http.MethodPost, "/api/device/confirm", `{"display_code":"ZZZZ-ZZZZ"}`, asSession(env.aliceSession))
	expectStatus(t, rr, http.StatusNotFound)
	if code := errorCode(t, rr); code != "INVALID_CODE" {
		t.Errorf("code = %q", code)
	}

	rr = env.do(t, http.MethodPost, "/api/device/start", ``, anonymous)
	expectStatus(t, rr, http.StatusBadRequest)
}
