// ABOUTME: HTTP handlers for login, password recovery and caller identity
// ABOUTME: Failure bodies share the auth failure shape and never reveal whether an email exists

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/2389/huerto-gateway/internal/account"
	"github.com/2389/huerto-gateway/internal/auth"
	"github.com/2389/huerto-gateway/internal/store"
)

// maxBodyBytes caps JSON request bodies on the account endpoints.
const maxBodyBytes = 64 << 10

// Response messages shown to callers
const (
	msgRecoverySent    = "Código de recuperación enviado al correo."
	msgPasswordUpdated = "Contraseña actualizada correctamente."
	msgBadCredentials  = "Credenciales inválidas."
	msgBadCode         = "Código incorrecto o expirado."
	msgInternal        = "internal error"
)

// LoginRequest is the body of POST /api/usuario/login
type LoginRequest struct {
	Email       string `json:"email"`
	Contrasenna string `json:"contrasenna"`
}

// UsuarioResponse describes a principal without sensitive fields
type UsuarioResponse struct {
	ID     string `json:"id"`
	Email  string `json:"email"`
	Nombre string `json:"nombre,omitempty"`
	Rol    string `json:"rol"`
}

// LoginResponse is returned on successful login
type LoginResponse struct {
	Token     string          `json:"token"`
	TokenType string          `json:"token_type"`
	ExpiresAt time.Time       `json:"expires_at"`
	Usuario   UsuarioResponse `json:"usuario"`
}

// RecoveryRequest is the body of POST /api/usuario/recuperar-contrasenna
type RecoveryRequest struct {
	Email string `json:"email"`
}

// ResetRequest is the body of PUT /api/usuario/actualizar-contrasenna
type ResetRequest struct {
	Email            string `json:"email"`
	Codigo           string `json:"codigo"`
	ContrasennaNueva string `json:"contrasennaNueva"`
}

// MessageResponse carries a human-readable outcome
type MessageResponse struct {
	Message string `json:"message"`
}

func usuarioFromPrincipal(p *store.Principal) UsuarioResponse {
	return UsuarioResponse{
		ID:     p.ID,
		Email:  p.Email,
		Nombre: p.DisplayName,
		Rol:    string(p.Role),
	}
}

// writeJSON writes v with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes the shared failure body.
func writeError(w http.ResponseWriter, r *http.Request, status int, message string) {
	auth.WriteFailure(w, r, status, message)
}

// decodeBody decodes a bounded JSON body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON body")
	}
	return nil
}

// handleLogin verifies credentials and returns a bearer token.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Contrasenna == "" {
		writeError(w, r, http.StatusBadRequest, "email and contrasenna are required")
		return
	}

	res, err := g.accounts.Login(r.Context(), req.Email, req.Contrasenna)
	if errors.Is(err, account.ErrInvalidCredentials) {
		auth.WriteUnauthorized(w, r, msgBadCredentials)
		return
	}
	if err != nil {
		g.logger.Error("login failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, msgInternal)
		return
	}

	writeJSON(w, http.StatusOK, LoginResponse{
		Token:     res.Token.Raw,
		TokenType: "Bearer",
		ExpiresAt: res.Token.ExpiresAt,
		Usuario:   usuarioFromPrincipal(res.Principal),
	})
}

// handleRequestRecovery issues a recovery code. The reply is the same
// whether or not the email is registered.
func (g *Gateway) handleRequestRecovery(w http.ResponseWriter, r *http.Request) {
	var req RecoveryRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}

	if err := g.accounts.RequestRecovery(r.Context(), req.Email); err != nil {
		g.logger.Error("recovery request failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, msgInternal)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: msgRecoverySent})
}

// handleResetPassword replaces a password given a live recovery code.
func (g *Gateway) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Email == "" || req.Codigo == "" {
		writeError(w, r, http.StatusBadRequest, "email and codigo are required")
		return
	}

	err := g.accounts.ResetPassword(r.Context(), req.Email, req.Codigo, req.ContrasennaNueva)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, MessageResponse{Message: msgPasswordUpdated})
	case errors.Is(err, account.ErrWeakPassword), errors.Is(err, auth.ErrPasswordTooLong):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, account.ErrRecoveryCodeMismatch):
		writeError(w, r, http.StatusBadRequest, msgBadCode)
	default:
		g.logger.Error("password reset failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, msgInternal)
	}
}

// handleMe returns the caller's identity as resolved for this request.
func (g *Gateway) handleMe(w http.ResponseWriter, r *http.Request) {
	id := auth.FromContext(r.Context())
	if id == nil {
		auth.WriteUnauthorized(w, r, "full authentication is required to access this resource")
		return
	}
	writeJSON(w, http.StatusOK, UsuarioResponse{
		ID:    id.PrincipalID,
		Email: id.Email,
		Rol:   string(id.Role),
	})
}
