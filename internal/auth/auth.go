package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/ajibolagenius/corpsmart/internal/db"
	"github.com/ajibolagenius/corpsmart/internal/market"
	"github.com/ajibolagenius/corpsmart/internal/models"
)

// AuthService handles registration and session tokens. Sessions are
// explicit bearer tokens resolved per request; there is no ambient
// current-user state.
type AuthService struct {
	DB     *db.DB
	Market *market.Market
	Secret []byte
}

// NewAuthService creates a new auth service.
func NewAuthService(database *db.DB, m *market.Market, secret string) *AuthService {
	return &AuthService{DB: database, Market: m, Secret: []byte(secret)}
}

// RegisterInput is the registration form.
type RegisterInput struct {
	DisplayName  string
	Email        string
	Password     string
	State        string
	Batch        string
	CallUpNumber string
}

// Register creates a new unverified member with a hashed password.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	if in.DisplayName == "" {
		return nil, fmt.Errorf("display name cannot be empty")
	}
	if in.Email == "" || !strings.Contains(in.Email, "@") {
		return nil, fmt.Errorf("a valid email is required")
	}
	if in.Password == "" {
		return nil, fmt.Errorf("password cannot be empty")
	}
	if len(in.Password) > 100 {
		return nil, fmt.Errorf("password too long (max 100 characters)")
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	user := &models.User{
		ID:           uuid.New().String(),
		DisplayName:  in.DisplayName,
		Email:        strings.ToLower(in.Email),
		PasswordHash: string(hashedPassword),
		Verified:     false,
		Role:         models.RoleMember,
		State:        in.State,
		Batch:        in.Batch,
		CallUpNumber: in.CallUpNumber,
		CreatedAt:    time.Now(),
	}

	created, err := s.DB.CreateUser(ctx, user)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	s.Market.LoadUser(*created)
	return created, nil
}

// Login verifies credentials and generates a JWT.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, error) {
	user, err := s.DB.GetUserByEmail(ctx, strings.ToLower(email))
	if err != nil {
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", err
	}

	return s.TokenFor(user.ID)
}

// TokenFor signs a session token for the user.
func (s *AuthService) TokenFor(userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(24 * time.Hour).Unix(),
	})

	tokenString, err := token.SignedString(s.Secret)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// GetUserFromToken extracts the user ID from a session token.
func (s *AuthService) GetUserFromToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return s.Secret, nil
	})
	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(jwt.MapClaims); ok && token.Valid {
		userID, ok := claims["user_id"].(string)
		if !ok {
			return "", fmt.Errorf("token has no user_id claim")
		}
		return userID, nil
	}
	return "", fmt.Errorf("invalid token")
}
