package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/harborchat/harbor/internal/model"
	"github.com/harborchat/harbor/internal/repository"
	"github.com/harborchat/harbor/middleware/jwt"
)

var (
	ErrInvalidCredentials = NewError(KindNotAuthorized, "invalid username or password")
	ErrUsernameTaken      = NewError(KindConflict, "username is already taken")
	ErrEmailTaken         = NewError(KindConflict, "email is already registered")
)

type RegisterInput struct {
	Username string `json:"username" binding:"required,min=2,max=32"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8,max=72"`
}

type IAuthService interface {
	Register(ctx context.Context, in RegisterInput) (*model.User, error)
	Login(ctx context.Context, username, password string) (string, *model.User, error)
	GetUser(ctx context.Context, userID string) (*model.User, error)
}

type AuthService struct {
	userRepo repository.IUserRepository
	tokens   *jwt.TokenManager
}

func NewAuthService(userRepo repository.IUserRepository, tokens *jwt.TokenManager) IAuthService {
	return &AuthService{userRepo: userRepo, tokens: tokens}
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, NewError(KindValidation, "username is required")
	}

	if _, err := s.userRepo.FindByUsername(ctx, username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, WrapTransient("failed to check username", err)
	}
	if _, err := s.userRepo.FindByEmail(ctx, in.Email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, WrapTransient("failed to check email", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, WrapTransient("failed to hash password", err)
	}

	user := &model.User{
		ID:           uuid.New().String(),
		Username:     username,
		Email:        in.Email,
		PasswordHash: string(hash),
		Role:         model.RoleMember,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, WrapTransient("failed to create user", err)
	}
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, username, password string) (string, *model.User, error) {
	user, err := s.userRepo.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, WrapTransient("failed to find user", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.tokens.GenerateToken(user.ID, user.Username, user.Role)
	if err != nil {
		return "", nil, WrapTransient("failed to issue token", err)
	}
	return token, user, nil
}

func (s *AuthService) GetUser(ctx context.Context, userID string) (*model.User, error) {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, WrapTransient("failed to find user", err)
	}
	return user, nil
}
