// Package users is the minimal internal user directory backing
// authentication and actor resolution.
package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/bcrypt"

	dbpkg "github.com/urizennnn/omni-backend-sub001/internal/db"
)

// ErrNotFound reports a missing user.
var ErrNotFound = errors.New("user not found")

// Roles carried by internal users.
const (
	RoleOwner = "owner"
	RoleAgent = "agent"
	RoleAdmin = "admin"
)

// User is an internal actor: the inbox owner or a shared-inbox agent.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Service persists and reads users.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a user service.
func NewService(log *slog.Logger, pool *pgxpool.Pool) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		pool:   pool,
		logger: log.With(slog.String("service", "users")),
	}
}

// Create registers a user with a bcrypt-hashed password.
func (s *Service) Create(ctx context.Context, email, password, role string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return User{}, fmt.Errorf("email is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return User{}, fmt.Errorf("hash password: %w", err)
	}
	if role == "" {
		role = RoleOwner
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, role)
		VALUES ($1, $2, $3)
		RETURNING id, email, password_hash, role, created_at`,
		email, string(hash), role)
	return scanUser(row)
}

// Authenticate checks credentials and returns the user on success.
func (s *Service) Authenticate(ctx context.Context, email, password string) (User, error) {
	user, err := s.GetByEmail(ctx, email)
	if err != nil {
		return User{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return User{}, fmt.Errorf("invalid credentials")
	}
	return user, nil
}

// GetByEmail returns a user by email.
func (s *Service) GetByEmail(ctx context.Context, email string) (User, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, role, created_at
		FROM users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return user, err
}

// Get returns a user by id.
func (s *Service) Get(ctx context.Context, id string) (User, error) {
	pgID, err := dbpkg.ParseUUID(id)
	if err != nil {
		return User{}, err
	}
	row := s.pool.QueryRow(ctx, `
		SELECT id, email, password_hash, role, created_at
		FROM users WHERE id = $1`, pgID)
	user, err := scanUser(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, ErrNotFound
	}
	return user, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		id        pgtype.UUID
		email     string
		hash      string
		role      string
		createdAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &email, &hash, &role, &createdAt); err != nil {
		return User{}, err
	}
	return User{
		ID:           id.String(),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		CreatedAt:    createdAt.Time,
	}, nil
}
