package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
)

const flashCookie = "workbench_flash"

// Flash categories.
const (
	FlashSuccess = "success"
	FlashWarning = "warning"
	FlashError   = "error"
)

// Flash is a one-shot message shown on the next page render.
type Flash struct {
	Category string `json:"category"`
	Message  string `json:"message"`
}

// flasher stores flashes in an HMAC-signed cookie.
type flasher struct {
	secret []byte
}

func (f flasher) sign(payload string) string {
	mac := hmac.New(sha256.New, f.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// add appends a flash to those already pending on the request.
func (f flasher) add(w http.ResponseWriter, r *http.Request, category, message string) {
	flashes := f.read(r)
	flashes = append(flashes, Flash{Category: category, Message: message})
	b, err := json.Marshal(flashes)
	if err != nil {
		return
	}
	payload := base64.RawURLEncoding.EncodeToString(b)
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    payload + "." + f.sign(payload),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// read returns the pending flashes. Tampered cookies are ignored.
func (f flasher) read(r *http.Request) []Flash {
	c, err := r.Cookie(flashCookie)
	if err != nil {
		return nil
	}
	payload, sig, ok := strings.Cut(c.Value, ".")
	if !ok || !hmac.Equal([]byte(sig), []byte(f.sign(payload))) {
		return nil
	}
	b, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return nil
	}
	var flashes []Flash
	if err := json.Unmarshal(b, &flashes); err != nil {
		return nil
	}
	return flashes
}

// pop returns the pending flashes and clears the cookie.
func (f flasher) pop(w http.ResponseWriter, r *http.Request) []Flash {
	flashes := f.read(r)
	if _, err := r.Cookie(flashCookie); err == nil {
		http.SetCookie(w, &http.Cookie{Name: flashCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	}
	return flashes
}
