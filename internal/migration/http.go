// --------------------------------------------------------------------------------
// Author: Thomas F McGeehan V
//
// This file is part of a software project developed by Thomas F McGeehan V.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
// For more information about the MIT License, please visit:
// https://opensource.org/licenses/MIT
//
// Acknowledgment appreciated but not required.
// --------------------------------------------------------------------------------

package migration

import (
	"errors"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/arrowarc/parquedb/internal/parqerr"
)

// Handler is the minimal control plane for the four migration operations
// . Full JWT verification plumbing is out of scope; the gate here
// is JWKS configuration plus Bearer-token presence — without JWKS_URI every
// endpoint answers 401.
type Handler struct {
	coordinator *Coordinator
	jwksURI     string
	mux         *http.ServeMux
}

// NewHandler builds the control plane. jwksURI empty disables all access.
func NewHandler(coordinator *Coordinator, jwksURI string) *Handler {
	h := &Handler{coordinator: coordinator, jwksURI: jwksURI, mux: http.NewServeMux()}
	h.mux.HandleFunc("POST /migrations", h.start)
	h.mux.HandleFunc("GET /migrations", h.list)
	h.mux.HandleFunc("GET /migrations/{id}", h.status)
	h.mux.HandleFunc("DELETE /migrations/{id}", h.cancel)
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		return
	}
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.jwksURI == "" {
		return false
	}
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	return ok && strings.TrimSpace(token) != ""
}

type startRequest struct {
	To         string   `json:"to"`
	Namespaces []string `json:"namespaces"`
}

func (h *Handler) start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	job, err := h.coordinator.Start(r.Context(), req.To, req.Namespaces)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	job, err := h.coordinator.Status(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	job, err := h.coordinator.Cancel(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) list(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.coordinator.List())
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	var pe *parqerr.Error
	if errors.As(err, &pe) {
		switch pe.Kind {
		case parqerr.KindNotFound:
			status = http.StatusNotFound
		case parqerr.KindInvalidInput:
			status = http.StatusBadRequest
		}
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
