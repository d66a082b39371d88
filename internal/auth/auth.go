// Package auth supplies the authenticated user identity the core
// trusts: HS256 bearer tokens resolved to a user_id on every request.
package auth

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials covers unknown email and wrong password alike.
var ErrInvalidCredentials = errors.New("invalid credentials")

type User struct {
	ID        int64     `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	Password  string    `db:"password" json:"-"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Store persists user accounts.
type Store struct {
	db *sqlx.DB
}

func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Create hashes the password and inserts the user.
func (s *Store) Create(ctx context.Context, email, password string) (*User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &User{Email: email, Password: string(hashed), CreatedAt: time.Now().UTC()}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password, created_at)
		VALUES ($1, $2, $3)
		RETURNING id`, email, string(hashed), user.CreatedAt).Scan(&user.ID)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// Authenticate resolves email+password to a user.
func (s *Store) Authenticate(ctx context.Context, email, password string) (*User, error) {
	user := &User{}
	err := s.db.GetContext(ctx, user, `SELECT id, email, password, created_at FROM users WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

// GenerateToken issues a 24h HS256 bearer token for the user.
func GenerateToken(secret string, user *User) (string, error) {
	claims := jwt.MapClaims{
		"user_id": user.ID,
		"email":   user.Email,
		"exp":     time.Now().Add(24 * time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// JWTMiddleware validates the Authorization bearer token and stores the
// authenticated user_id in the echo context.
func JWTMiddleware(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tokenString := bearerToken(c.Request().Header.Get("Authorization"))
			if tokenString == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Authorization header is required"})
			}

			token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, errors.New("unexpected signing method")
				}
				return []byte(secret), nil
			})
			if err != nil || !token.Valid {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid token"})
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid token"})
			}
			rawID, ok := claims["user_id"].(float64)
			if !ok {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "Invalid token"})
			}

			c.Set("user_id", int64(rawID))
			return next(c)
		}
	}
}

func bearerToken(header string) string {
	if len(header) < 8 || header[:7] != "Bearer " {
		return ""
	}
	return header[7:]
}

// UserID returns the authenticated user id set by JWTMiddleware.
func UserID(c echo.Context) int64 {
	id, _ := c.Get("user_id").(int64)
	return id
}
