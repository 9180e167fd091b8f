package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/npezzotti/lecture-qa/internal/auth"
	"github.com/npezzotti/lecture-qa/internal/database"
	"github.com/npezzotti/lecture-qa/internal/types"
	"go.uber.org/zap"
)

const tokenCookieKey = "token"

type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Token string     `json:"token"`
	User  types.User `json:"user"`
}

type SessionResponse struct {
	User types.User `json:"user"`
}

// selfRegisterRoles are the roles a caller may pick when creating an account.
var selfRegisterRoles = map[database.Role]bool{
	database.RoleStudent:    true,
	database.RoleInstructor: true,
	database.RoleTA:         true,
}

func createJwtCookie(tokenString string, exp time.Duration) *http.Cookie {
	c := &http.Cookie{
		Name:     tokenCookieKey,
		Value:    tokenString,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
	if exp > 0 {
		c.Expires = time.Now().Add(exp)
	}

	return c
}

func (s *LectureApp) issueToken(w http.ResponseWriter, status int, user database.User) {
	token, err := s.codec.Sign(auth.Identity{
		Id:    user.Id,
		Email: user.EmailAddress,
		Role:  user.Role,
	})
	if err != nil {
		s.log.Error("sign token", zap.String("user_id", user.Id), zap.Error(err))
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	http.SetCookie(w, createJwtCookie(token, s.codec.TTL()))
	s.writeJson(w, status, AuthResponse{Token: token, User: types.NewUser(user)})
}

func (s *LectureApp) register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	if req.Name == "" || req.Email == "" || req.Password == "" {
		errResp := NewValidationError("name, email and password are required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	role := database.RoleStudent
	if req.Role != "" {
		role = database.Role(req.Role)
	}
	if !selfRegisterRoles[role] {
		errResp := NewValidationError("invalid role")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	pwdHash, err := auth.HashPassword(req.Password)
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.CreateUser(database.CreateUserParams{
		Name:         req.Name,
		EmailAddress: req.Email,
		PasswordHash: pwdHash,
		Role:         role,
	})
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, database.ErrEmailTaken) {
			errResp = NewConflictError()
			errResp.Message = "email already registered"
		} else {
			s.log.Error("CreateUser", zap.Error(err))
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.log.Info("registered user", zap.String("user_id", user.Id), zap.String("role", string(user.Role)))
	s.issueToken(w, http.StatusCreated, user)
}

func (s *LectureApp) login(w http.ResponseWriter, r *http.Request) {
	var lr LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&lr); err != nil {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if lr.Email == "" || lr.Password == "" {
		errResp := NewValidationError("email and password are required")
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetUserByEmail(lr.Email)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewUnauthorizedError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	if !auth.VerifyPassword(user.PasswordHash, lr.Password) {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.issueToken(w, http.StatusOK, user)
}

func (s *LectureApp) session(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFrom(r.Context())
	if !ok {
		errResp := NewUnauthorizedError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	user, err := s.db.GetUserById(id.Id)
	if err != nil {
		var errResp *ApiError
		if errors.Is(err, sql.ErrNoRows) {
			errResp = NewUnauthorizedError()
		} else {
			errResp = NewInternalServerError(err)
		}
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, SessionResponse{User: types.NewUser(user)})
}

func (s *LectureApp) logout(w http.ResponseWriter, _ *http.Request) {
	// overwrite the cookie with one that has already expired
	c := createJwtCookie("", 0)
	c.Expires = time.Unix(0, 0)
	c.MaxAge = -1
	http.SetCookie(w, c)
	w.WriteHeader(http.StatusNoContent)
}
