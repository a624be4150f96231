package httpapi

import (
	"errors"
	"net/http"

	"glgapp.org/internal/obs"
	"glgapp.org/internal/rules"
)

// endpoint serves one gateway kind. The bearer token is passed through as is;
// a missing token fails authorization only after the body validated.
func (a *API) endpoint(k rules.Kind) http.HandlerFunc {
	name := k.String()
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeError(w, r, http.StatusMethodNotAllowed, "method not allowed", nil)
			return
		}
		raw, err := decodeJSON(r)
		if err != nil {
			code := http.StatusBadRequest
			if errors.Is(err, errBodyTooLarge) {
				code = http.StatusRequestEntityTooLarge
			}
			writeError(w, r, code, err.Error(), nil)
			return
		}
		token, _ := extractBearerToken(r.Header.Get(authHeader))

		resp := a.dispatcher.Dispatch(r.Context(), name, raw, token)
		if resp.Status >= http.StatusBadRequest {
			writeError(w, r, resp.Status, resp.Error, resp.Details)
			return
		}
		writeJSON(w, resp.Status, resp.Body)
	}
}

// GetVideos returns the cached video listing to any caller with a valid token.
func (a *API) GetVideos(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, r, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}
	if _, err := a.authenticate(r); err != nil {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	if a.videos == nil {
		writeError(w, r, http.StatusInternalServerError, "video listing not configured", nil)
		return
	}
	listing, err := a.videos.List(r.Context())
	if err != nil {
		obs.Error("video listing failed", map[string]any{
			"request_id": requestIDFrom(r.Context()),
			"error":      err,
		})
		writeError(w, r, http.StatusInternalServerError, "upstream service error", nil)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(listing)
}
