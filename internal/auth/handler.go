package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"

	"authgate/internal/observability"
)

const maxBodyBytes = 1 << 20

type Handler struct {
	service *Service
	logger  *observability.Logger
}

func NewHandler(service *Service, logger *observability.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Login takes an OAuth2 password form. The email goes in "username"; an
// "email" field is accepted as well.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	identifier := r.PostForm.Get("username")
	if identifier == "" {
		identifier = r.PostForm.Get("email")
	}

	token, err := h.service.Login(r.Context(), identifier, r.PostForm.Get("password"))
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			writeUnauthorized(w, ErrInvalidCredentials.Error())
			return
		}
		h.internalError(w, "login_failed", err)
		return
	}

	writeJSON(w, http.StatusOK, token)
}

func (h *Handler) GetUserInfo(w http.ResponseWriter, r *http.Request) {
	email := NormalizeEmail(r.PathValue("identifier"))
	if err := validation.Validate(email, validation.Required, is.Email); err != nil {
		writeError(w, http.StatusBadRequest, "invalid email")
		return
	}

	user, err := h.service.GetUserInfo(r.Context(), email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			writeError(w, http.StatusBadRequest, ErrUserNotFound.Error())
			return
		}
		h.internalError(w, "get_user_info_failed", err)
		return
	}

	writeJSON(w, http.StatusOK, user.Public())
}

func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var body NewUser
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	user, err := h.service.CreateUser(r.Context(), body)
	if err != nil {
		var fieldErrs validation.Errors
		switch {
		case errors.As(err, &fieldErrs):
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid user", "fields": fieldErrs})
		case errors.Is(err, ErrDuplicateUser), errors.Is(err, ErrPasswordTooLong):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.internalError(w, "create_user_failed", err)
		}
		return
	}

	fields := map[string]any{"email": user.Email}
	if caller, ok := UserFromContext(r.Context()); ok {
		fields["created_by"] = caller.Email
	}
	h.logger.Info("user_created", fields)

	writeJSON(w, http.StatusCreated, user.Public())
}

func (h *Handler) internalError(w http.ResponseWriter, event string, err error) {
	observability.CaptureError(err)
	h.logger.Error(event, map[string]any{"error": err.Error()})
	writeError(w, http.StatusInternalServerError, strings.ReplaceAll(event, "_", " "))
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
