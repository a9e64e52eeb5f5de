package main

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/asdine/storm/v3"
	"github.com/dgrijalva/jwt-go"
	"github.com/go-chi/render"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

var (
	JWT_LIFESPAN time.Duration = time.Hour
)

type contextKey string

const JWT_CONTEXT_KEY contextKey = "jwt"

// Roles. Observers may read telemetry and the journal, drivers may also move the robot.
const (
	ROLE_DRIVER   = "driver"
	ROLE_OBSERVER = "observer"
)

var (
	JWTEmpty           = errors.New("Bearer token not provided")
	ErrOperatorRevoked = errors.New("operator disabled")
	ErrNotDriver       = errors.New("operator may not drive")
)

//---
// Operators
//---

// Operator is someone allowed to reach the drive remotely.
type Operator struct {
	ID        int    `storm:"increment"` // pk
	Email     string `storm:"unique"`
	Name      string
	Password  string
	Role      string
	Disabled  bool
	LastLogin time.Time
}

func NewOperator(email, password, role string) (*Operator, error) {
	if role == "" {
		role = ROLE_DRIVER
	}
	if role != ROLE_DRIVER && role != ROLE_OBSERVER {
		return nil, errors.New("role must be driver or observer")
	}

	o := &Operator{Email: email, Name: email, Role: role}
	o.SetPassword([]byte(password))
	return o, nil
}

func (o *Operator) SetPassword(pass []byte) {
	hash, _ := bcrypt.GenerateFromPassword(pass, bcrypt.DefaultCost)
	o.Password = string(hash)
}

// VerifyPassword returns the bcrypt error untouched for the caller to map.
func (o *Operator) VerifyPassword(pass []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(o.Password), pass)
}

func (o *Operator) CanDrive() bool {
	return !o.Disabled && o.Role == ROLE_DRIVER
}

func findOperator(email string) (*Operator, error) {
	var o Operator
	if err := ENV.DB.One("Email", email, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

//---
// Tokens
//---

type OperatorClaims struct {
	Role string `json:"role"`
	jwt.StandardClaims
}

type LoginPayload struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (l *LoginPayload) Bind(r *http.Request) error {
	if l.Email == "" {
		return errors.New("email is required")
	}
	return nil
}

type JWTPayload struct {
	SignedToken string `json:"token"`
	Role        string `json:"role"`
}

// jwtSecret returns the configured HMAC secret. Without one a random secret is
// generated, so tokens do not survive a restart.
func jwtSecret() []byte {
	if len(ENV.jwtSecret) > 0 {
		return ENV.jwtSecret
	}

	if ENV.JWT_SECRET != "" {
		ENV.jwtSecret = []byte(ENV.JWT_SECRET)
	} else {
		log.Warn().Msg("JWT_SECRET not set, using a random secret")
		ENV.jwtSecret = make([]byte, 32)
		if _, err := rand.Read(ENV.jwtSecret); err != nil {
			panic(err)
		}
	}

	return ENV.jwtSecret
}

func newJWT(o *Operator) (ts string, err error) {
	now := time.Now().UTC()
	claims := OperatorClaims{
		Role: o.Role,
		StandardClaims: jwt.StandardClaims{
			Issuer:    ENV.JWT_ISSUER,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(JWT_LIFESPAN).Unix(),
			Subject:   o.Email,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	return token.SignedString(jwtSecret())
}

func parseJWT(ts string) (*OperatorClaims, error) {
	claims := new(OperatorClaims)
	_, err := jwt.ParseWithClaims(ts, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("Unexpected signing method")
		}
		return jwtSecret(), nil
	})
	if err != nil {
		if jwterr, ok := err.(*jwt.ValidationError); ok && jwterr.Errors&jwt.ValidationErrorExpired != 0 {
			return nil, errors.New("Token has expired")
		}
		return nil, errors.New("Invalid token")
	}

	return claims, nil
}

// tokenFromRequest looks in the query string, then the authorization header, then
// the jwt cookie. Browsers cannot set headers on a websocket upgrade.
func tokenFromRequest(r *http.Request) string {
	if ts := r.URL.Query().Get("jwt"); ts != "" {
		return ts
	}

	bearer := r.Header.Get("Authorization")
	if len(bearer) > 7 && strings.ToUpper(bearer[0:6]) == "BEARER" {
		return bearer[7:]
	}

	if cookie, err := r.Cookie("jwt"); err == nil {
		return cookie.Value
	}
	return ""
}

func claimsFromContext(ctx context.Context) (*OperatorClaims, bool) {
	claims, ok := ctx.Value(JWT_CONTEXT_KEY).(*OperatorClaims)
	return claims, ok
}

//---
// Views
//---

// Login checks an operator's password and hands out a token carrying its role.
func Login(w http.ResponseWriter, r *http.Request) {
	data := &LoginPayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	operator, err := findOperator(data.Email)
	if err == storm.ErrNotFound {
		render.Render(w, r, ErrNotFound)
		return
	} else if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}

	if err = operator.VerifyPassword([]byte(data.Password)); err != nil {
		if err == bcrypt.ErrMismatchedHashAndPassword {
			render.Render(w, r, ErrPermissionDenied(errors.New("Invalid password")))
			return
		}
		render.Render(w, r, ErrRender(err))
		return
	}

	if operator.Disabled {
		render.Render(w, r, ErrPermissionDenied(ErrOperatorRevoked))
		return
	}

	tokenString, err := newJWT(operator)
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}

	if err = ENV.DB.UpdateField(operator, "LastLogin", time.Now().UTC()); err != nil {
		log.Warn().Err(err).Str("operator", operator.Email).Msg("unable to record login")
	}

	log.Info().Str("operator", operator.Email).Str("role", operator.Role).Msg("operator logged in")
	render.JSON(w, r, JWTPayload{tokenString, operator.Role})
}

// JWTRefresh re-reads the operator so a disabled account or a changed role takes
// effect at the next refresh.
func JWTRefresh(w http.ResponseWriter, r *http.Request) {
	claims, ok := claimsFromContext(r.Context())
	if !ok {
		render.Render(w, r, ErrUnauthorized(JWTEmpty))
		return
	}

	operator, err := findOperator(claims.Subject)
	if err == storm.ErrNotFound {
		render.Render(w, r, ErrUnauthorized(ErrOperatorRevoked))
		return
	} else if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}
	if operator.Disabled {
		render.Render(w, r, ErrUnauthorized(ErrOperatorRevoked))
		return
	}

	tokenString, err := newJWT(operator)
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}

	render.JSON(w, r, JWTPayload{tokenString, operator.Role})
}

//---
// Authentication middleware
//---

func ValidateJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := tokenFromRequest(r)
		if tokenStr == "" {
			render.Render(w, r, ErrUnauthorized(JWTEmpty))
			return
		}

		claims, err := parseJWT(tokenStr)
		if err != nil {
			render.Render(w, r, ErrUnauthorized(err))
			return
		}

		ctx := context.WithValue(r.Context(), JWT_CONTEXT_KEY, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireDriver sits behind ValidateJWT on routes that move the robot.
func RequireDriver(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFromContext(r.Context())
		if !ok {
			render.Render(w, r, ErrUnauthorized(JWTEmpty))
			return
		}
		if claims.Role != ROLE_DRIVER {
			render.Render(w, r, ErrPermissionDenied(ErrNotDriver))
			return
		}

		next.ServeHTTP(w, r)
	})
}
