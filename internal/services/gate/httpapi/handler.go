// Package httpapi exposes the gate service over JSON HTTP: the scanner
// check-in endpoint, admin OTP login, attendee email verification, and the
// QR token lookup the registration UI renders.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/lanternfest/platform/internal/services/gate/adminsession"
	"github.com/lanternfest/platform/internal/services/gate/engine"
	"github.com/lanternfest/platform/internal/services/gate/otp"
	"github.com/lanternfest/platform/internal/services/gate/passcode"
	"github.com/lanternfest/platform/internal/services/gate/storage"
)

// CheckInAuthorizer evaluates one scan. Implemented by engine.Engine.
type CheckInAuthorizer interface {
	PerformCheckIn(ctx context.Context, req engine.Request) engine.Verdict
}

// TokenEncoder produces the signed QR payload for an attendee id.
// Implemented by qrtoken.Codec.
type TokenEncoder interface {
	Encode(attendeeID string) string
}

// Handler serves the gate HTTP API.
type Handler struct {
	checkins  CheckInAuthorizer
	attendees storage.AttendeeStore
	otps      *otp.Service
	sessions  *adminsession.Codec
	tokens    TokenEncoder
}

// New creates a handler over the gate collaborators.
func New(
	checkins CheckInAuthorizer,
	attendees storage.AttendeeStore,
	otps *otp.Service,
	sessions *adminsession.Codec,
	tokens TokenEncoder,
) *Handler {
	return &Handler{
		checkins:  checkins,
		attendees: attendees,
		otps:      otps,
		sessions:  sessions,
		tokens:    tokens,
	}
}

// RegisterRoutes registers gate HTTP endpoints on the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.Handle("POST /api/checkin", h.requireAdmin(http.HandlerFunc(h.handleCheckIn)))
	mux.HandleFunc("POST /api/admin/login/request", h.handleAdminLoginRequest)
	mux.HandleFunc("POST /api/admin/login/verify", h.handleAdminLoginVerify)
	mux.HandleFunc("POST /api/admin/logout", h.handleAdminLogout)
	mux.HandleFunc("POST /api/verify-email/request", h.handleVerifyEmailRequest)
	mux.HandleFunc("POST /api/verify-email/verify", h.handleVerifyEmailVerify)
	mux.Handle("GET /api/attendees/{id}/qr", h.requireAdmin(http.HandlerFunc(h.handleAttendeeQR)))
	mux.HandleFunc("GET /healthz", handleHealthz)
}

type sessionContextKey struct{}

// requireAdmin wraps next with admin session cookie authentication. The
// verified operator session is placed in the request context.
func (h *Handler) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := adminsession.ReadCookie(r)
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		session, ok := h.sessions.Verify(token)
		if !ok {
			writeJSONError(w, http.StatusUnauthorized, "session is invalid or expired")
			return
		}
		ctx := context.WithValue(r.Context(), sessionContextKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFrom(r *http.Request) (adminsession.Session, bool) {
	session, ok := r.Context().Value(sessionContextKey{}).(adminsession.Session)
	return session, ok
}

type checkInRequest struct {
	EventID   string `json:"eventId"`
	QRPayload string `json:"qrPayload"`
	Action    string `json:"action"`
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	session, ok := sessionFrom(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var body checkInRequest
	if err := decodeJSON(r, &body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}

	verdict := h.checkins.PerformCheckIn(r.Context(), engine.Request{
		EventID:     body.EventID,
		QRPayload:   body.QRPayload,
		Action:      engine.Action(body.Action),
		CheckedInBy: session.ID,
	})
	writeJSON(w, statusForVerdict(verdict), verdict)
}

// statusForVerdict maps a verdict to an HTTP status: success and warning
// scans are 200, policy denials 403, operator or data errors 400.
func statusForVerdict(verdict engine.Verdict) int {
	switch verdict.Status {
	case engine.StatusSuccess, engine.StatusWarning:
		return http.StatusOK
	case engine.StatusDenied:
		return http.StatusForbidden
	default:
		return http.StatusBadRequest
	}
}

type otpRequest struct {
	Email    string `json:"email"`
	DeviceID string `json:"deviceId"`
}

type otpVerifyRequest struct {
	Email    string `json:"email"`
	DeviceID string `json:"deviceId"`
	Code     string `json:"code"`
}

func (h *Handler) handleAdminLoginRequest(w http.ResponseWriter, r *http.Request) {
	var body otpRequest
	if err := decodeJSON(r, &body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if err := passcode.ValidateDeviceID(body.DeviceID); err != nil {
		writeJSONError(w, http.StatusBadRequest, "device id is invalid")
		return
	}
	email := strings.TrimSpace(body.Email)
	if email == "" {
		writeJSONError(w, http.StatusBadRequest, "email is required")
		return
	}

	// The response never reveals whether an account exists; the OTP is
	// issued only for provisioned operator accounts.
	attendee, err := h.attendees.GetAttendeeByEmail(r.Context(), email)
	if err == nil && adminsession.Role(attendee.Role).Valid() {
		if err := h.otps.Issue(r.Context(), passcode.PurposeAdmin, email, body.DeviceID); err != nil {
			log.Printf("admin login otp issue: %v", err)
		}
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Printf("admin login lookup: %v", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAdminLoginVerify(w http.ResponseWriter, r *http.Request) {
	var body otpVerifyRequest
	if err := decodeJSON(r, &body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	email := strings.TrimSpace(body.Email)
	if email == "" || strings.TrimSpace(body.Code) == "" {
		writeJSONError(w, http.StatusBadRequest, "email and code are required")
		return
	}

	if !h.otps.Verify(r.Context(), passcode.PurposeAdmin, email, body.DeviceID, body.Code) {
		writeJSONError(w, http.StatusUnauthorized, "code is invalid or expired")
		return
	}
	attendee, err := h.attendees.GetAttendeeByEmail(r.Context(), email)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "code is invalid or expired")
		return
	}
	role := adminsession.Role(attendee.Role)
	if !role.Valid() {
		writeJSONError(w, http.StatusForbidden, "account is not an operator account")
		return
	}
	// An imposter with no capability tags can do nothing; refuse the
	// session instead of issuing a useless credential.
	if role == adminsession.RoleImposter && len(attendee.Permissions) == 0 {
		writeJSONError(w, http.StatusForbidden, "account has no operator permissions")
		return
	}

	session := adminsession.Session{
		ID:          attendee.ID,
		Email:       attendee.Email,
		Role:        role,
		Permissions: attendee.Permissions,
	}
	token, err := h.sessions.Issue(session)
	if err != nil {
		log.Printf("admin session issue: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "could not start session")
		return
	}
	verified, ok := h.sessions.Verify(token)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "could not start session")
		return
	}
	adminsession.WriteCookie(w, token)
	writeJSON(w, http.StatusOK, verified)
}

func (h *Handler) handleAdminLogout(w http.ResponseWriter, r *http.Request) {
	adminsession.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleVerifyEmailRequest(w http.ResponseWriter, r *http.Request) {
	var body otpRequest
	if err := decodeJSON(r, &body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	if err := passcode.ValidateDeviceID(body.DeviceID); err != nil {
		writeJSONError(w, http.StatusBadRequest, "device id is invalid")
		return
	}
	email := strings.TrimSpace(body.Email)
	if email == "" {
		writeJSONError(w, http.StatusBadRequest, "email is required")
		return
	}

	if _, err := h.attendees.GetAttendeeByEmail(r.Context(), email); err == nil {
		if err := h.otps.Issue(r.Context(), passcode.PurposeAttendee, email, body.DeviceID); err != nil {
			log.Printf("verify email otp issue: %v", err)
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		log.Printf("verify email lookup: %v", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleVerifyEmailVerify(w http.ResponseWriter, r *http.Request) {
	var body otpVerifyRequest
	if err := decodeJSON(r, &body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "request body is not valid JSON")
		return
	}
	email := strings.TrimSpace(body.Email)
	if email == "" || strings.TrimSpace(body.Code) == "" {
		writeJSONError(w, http.StatusBadRequest, "email and code are required")
		return
	}

	if !h.otps.Verify(r.Context(), passcode.PurposeAttendee, email, body.DeviceID, body.Code) {
		writeJSONError(w, http.StatusUnauthorized, "code is invalid or expired")
		return
	}
	attendee, err := h.attendees.GetAttendeeByEmail(r.Context(), email)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "code is invalid or expired")
		return
	}
	if err := h.attendees.MarkEmailVerified(r.Context(), attendee.ID); err != nil {
		log.Printf("mark email verified: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "could not verify email")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type tokenResponse struct {
	Token string `json:"token"`
}

func (h *Handler) handleAttendeeQR(w http.ResponseWriter, r *http.Request) {
	attendeeID := strings.TrimSpace(r.PathValue("id"))
	if attendeeID == "" {
		writeJSONError(w, http.StatusBadRequest, "attendee id is required")
		return
	}
	attendee, err := h.attendees.GetAttendee(r.Context(), attendeeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "attendee not found")
			return
		}
		log.Printf("attendee qr lookup: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "could not load attendee")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: h.tokens.Encode(attendee.ID)})
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func decodeJSON(r *http.Request, target any) error {
	defer func() { _ = r.Body.Close() }()
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return decoder.Decode(target)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	encoder := json.NewEncoder(w)
	_ = encoder.Encode(payload)
}
