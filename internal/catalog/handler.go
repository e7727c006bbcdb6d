// internal/catalog/handler.go
package catalog

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"bookcatalog/internal/httpx"
)

type Handler struct {
	service Service
	log     *zap.Logger
}

func NewHandler(service Service, log *zap.Logger) *Handler {
	return &Handler{service: service, log: log}
}

// Routes registers the catalog endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/books", func(r chi.Router) {
		r.Post("/", h.handleCreateBook)
		r.Get("/", h.handleListBooks)
		r.Get("/{id}", h.handleGetBook)
		r.Put("/{id}", h.handleUpdateBook)
		r.Delete("/{id}", h.handleDeleteBook)
	})
	r.Route("/ratings", func(r chi.Router) {
		r.Get("/", h.handleListRatings)
		r.Get("/{id}", h.handleGetRating)
		r.Post("/{id}/values", h.handleAddRating)
	})
	r.Get("/top", h.handleTop)
	r.Get("/healthz", h.handleHealth)
}

type idResponse struct {
	ID string `json:"id"`
}

func (h *Handler) handleCreateBook(w http.ResponseWriter, r *http.Request) {
	if !isJSON(r) {
		httpx.WriteError(w, http.StatusUnsupportedMediaType, "unsupported media type: expected application/json")
		return
	}

	var req struct {
		ISBN  string `json:"ISBN"`
		Title string `json:"title"`
		Genre string `json:"genre"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusUnprocessableEntity, "malformed request body: "+err.Error())
		return
	}

	id, err := h.service.CreateBook(r.Context(), req.ISBN, req.Title, req.Genre)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, idResponse{ID: id.String()})
}

func (h *Handler) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.ListBooks(r.Context(), r.URL.Query().Get("genre"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if books == nil {
		books = []Book{}
	}
	httpx.WriteJSON(w, http.StatusOK, books)
}

func (h *Handler) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.service.GetBook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, book)
}

func (h *Handler) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	if !isJSON(r) {
		httpx.WriteError(w, http.StatusUnsupportedMediaType, "unsupported media type: expected application/json")
		return
	}

	var fields BookFields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		httpx.WriteError(w, http.StatusUnprocessableEntity, "malformed request body: "+err.Error())
		return
	}

	id, err := h.service.UpdateBook(r.Context(), chi.URLParam(r, "id"), fields)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, idResponse{ID: id.String()})
}

func (h *Handler) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := h.service.DeleteBook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, idResponse{ID: id.String()})
}

func (h *Handler) handleListRatings(w http.ResponseWriter, r *http.Request) {
	ratings, err := h.service.ListRatings(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]Rating, 0, len(ratings))
	for _, rt := range ratings {
		out = append(out, withValues(rt))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetRating(w http.ResponseWriter, r *http.Request) {
	rating, err := h.service.GetRating(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, withValues(rating))
}

func (h *Handler) handleAddRating(w http.ResponseWriter, r *http.Request) {
	if !isJSON(r) {
		httpx.WriteError(w, http.StatusUnsupportedMediaType, "unsupported media type: expected application/json")
		return
	}

	var req struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, http.StatusUnprocessableEntity, "malformed request body: "+err.Error())
		return
	}
	value, err := ratingValue(req.Value)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	avg, err := h.service.AddRating(r.Context(), chi.URLParam(r, "id"), value)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]float64{"new average": avg})
}

func (h *Handler) handleTop(w http.ResponseWriter, r *http.Request) {
	top, err := h.service.Top(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, top)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Health(r.Context()); err != nil {
		h.log.Error("Health check failed", zap.Error(err))
		httpx.WriteError(w, http.StatusServiceUnavailable, "unhealthy")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// StatusFor maps an error kind to its HTTP status code.
func StatusFor(kind Kind) int {
	switch kind {
	case KindRequiredFieldMissing, KindInvalidGenre, KindInvalidRating, KindImmutableField, KindDuplicateBook:
		return http.StatusUnprocessableEntity
	case KindBookNotFound:
		return http.StatusNotFound
	case KindExternalService, KindExternalBookNotFound:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var cerr *Error
	if errors.As(err, &cerr) {
		httpx.WriteError(w, StatusFor(cerr.Kind), cerr.Error())
		return
	}
	h.log.Error("Request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	httpx.WriteError(w, http.StatusInternalServerError, "internal server error")
}

// ratingValue accepts only a bare JSON integer. Quoted numbers and
// fractions are rejected.
func ratingValue(raw json.RawMessage) (int, error) {
	const op = "add rating"
	if len(raw) == 0 || string(raw) == "null" {
		return 0, newError(KindRequiredFieldMissing, op, `missing required field "value"`, nil)
	}
	var n json.Number
	if raw[0] == '"' || json.Unmarshal(raw, &n) != nil {
		return 0, newError(KindInvalidRating, op, "rating value must be an integer", nil)
	}
	v, err := n.Int64()
	if err != nil {
		return 0, newError(KindInvalidRating, op, "rating value must be an integer", nil)
	}
	return int(v), nil
}

func isJSON(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

func withValues(r Rating) Rating {
	if r.Values == nil {
		r.Values = []int{}
	}
	return r
}
