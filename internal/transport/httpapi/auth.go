package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Identity: проверенная личность пользователя из bearer-токена.
type Identity struct {
	ID    string
	Email string
}

type identityKey struct{}

// WithIdentity кладёт личность в контекст запроса.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFrom достаёт личность из контекста.
func IdentityFrom(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok && identity.ID != ""
}

// Claims: полезная нагрузка токена: {id, email}.
type Claims struct {
	ID    UserID `json:"id"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// UserID: идентификатор пользователя из токена. Провайдер выпускает id числом,
// поэтому принимаются и JSON-числа, и строки.
type UserID string

func (id *UserID) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*id = ""
	case string:
		*id = UserID(strings.TrimSpace(v))
	case json.Number:
		*id = UserID(v.String())
	default:
		return fmt.Errorf("user id must be a string or a number, got %T", raw)
	}
	return nil
}

// TokenVerifier проверяет bearer-токен.
type TokenVerifier interface {
	Verify(token string) (Identity, error)
}

var errEmptySubject = errors.New("token does not carry user id")

// JWTVerifier проверяет HS256-токены общим секретом. Токены выпускает внешний сервис.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier создаёт verifier с секретом secret.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

func (v *JWTVerifier) Verify(token string) (Identity, error) {
	claims := &Claims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return Identity{}, jwt.ErrSignatureInvalid
	}

	id := string(claims.ID)
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return Identity{}, errEmptySubject
	}
	return Identity{ID: id, Email: claims.Email}, nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// requireIdentity пропускает запрос только с валидным bearer-токеном.
func (s *server) requireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeMessage(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		identity, err := s.verifier.Verify(token)
		if err != nil {
			s.requestLogger(r).WithError(err).Debug("bearer token rejected")
			writeMessage(w, http.StatusUnauthorized, "invalid bearer token")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}
