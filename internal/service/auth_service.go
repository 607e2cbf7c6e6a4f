package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/realtime-gateway/internal/auth"
	"github.com/spec-kit/realtime-gateway/internal/config"
	"github.com/spec-kit/realtime-gateway/internal/domain"
	"github.com/spec-kit/realtime-gateway/internal/events"
	"github.com/spec-kit/realtime-gateway/internal/repository"
	"github.com/spec-kit/realtime-gateway/internal/sms"
	apperrors "github.com/spec-kit/realtime-gateway/pkg/util"
)

// AuthService coordinates the OTP login, refresh and logout flows.
type AuthService struct {
	users         repository.UserRepository
	refreshTokens repository.RefreshTokenRepository
	otps          repository.OtpRepository
	tokens        *auth.TokenService
	sender        sms.OtpSender
	dispatcher    events.Dispatcher
	logger        *zap.Logger

	bcryptCost  int
	otpLength   int
	otpMaxTries int
}

// AuthDependencies encapsulates collaborator requirements for auth service.
type AuthDependencies struct {
	UserRepo         repository.UserRepository
	RefreshTokenRepo repository.RefreshTokenRepository
	OtpRepo          repository.OtpRepository
	Sender           sms.OtpSender
	Dispatcher       events.Dispatcher
	Logger           *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.Config, deps AuthDependencies) *AuthService {
	return &AuthService{
		users:         deps.UserRepo,
		refreshTokens: deps.RefreshTokenRepo,
		otps:          deps.OtpRepo,
		tokens:        auth.NewTokenService(cfg.Auth),
		sender:        deps.Sender,
		dispatcher:    deps.Dispatcher,
		logger:        deps.Logger,
		bcryptCost:    cfg.Auth.BcryptCost,
		otpLength:     cfg.Auth.OtpCodeLength,
		otpMaxTries:   cfg.Auth.OtpMaxTries,
	}
}

// TokenService exposes the token issuer for other wiring (HTTP middleware,
// gateway verifier).
func (s *AuthService) TokenService() *auth.TokenService {
	return s.tokens
}

// RequestOtp generates a one-time code for the phone number, stores its hash
// with the otp-kind lifetime and sends it through the SMS provider.
func (s *AuthService) RequestOtp(ctx context.Context, phone string) error {
	code, err := auth.GenerateOtpCode(s.otpLength)
	if err != nil {
		return err
	}
	hash, err := auth.HashOtpCode(code, s.bcryptCost)
	if err != nil {
		return err
	}

	ttl := s.tokens.Lifetime(auth.KindOtp)
	if err := s.otps.Save(ctx, phone, hash, ttl); err != nil {
		return err
	}

	if err := s.sender.SendOtp(ctx, phone, code); err != nil {
		s.logger.Error("otp delivery failed", zap.String("phone", phone), zap.Error(err))
		return apperrors.NewInternalError(err)
	}

	s.publish(events.EventOtpRequested, "", events.OtpRequestedPayload{Phone: phone})
	return nil
}

// VerifyOtp checks a submitted code, creates the account on first login and
// returns a fresh token pair.
func (s *AuthService) VerifyOtp(ctx context.Context, phone, code, device string) (*domain.User, *domain.TokenPair, error) {
	hash, tries, err := s.otps.Get(ctx, phone)
	if err != nil {
		if errors.Is(err, repository.ErrOtpNotFound) {
			return nil, nil, apperrors.NewUnauthorized("code expired or never requested")
		}
		return nil, nil, err
	}

	if tries >= int64(s.otpMaxTries) {
		return nil, nil, apperrors.NewTooManyRequests("too many code attempts, request a new code")
	}

	if err := auth.CompareOtpCode(hash, code); err != nil {
		if _, incErr := s.otps.IncrementTries(ctx, phone); incErr != nil {
			s.logger.Warn("otp try counter update failed", zap.String("phone", phone), zap.Error(incErr))
		}
		return nil, nil, apperrors.NewValidationError("wrong code", nil)
	}

	if err := s.otps.Delete(ctx, phone); err != nil {
		s.logger.Warn("otp cleanup failed", zap.String("phone", phone), zap.Error(err))
	}

	user, err := s.users.GetByPhone(ctx, phone)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, err
		}
		user = &domain.User{
			Phone:  phone,
			Role:   domain.RoleMember,
			Status: domain.UserStatusActive,
		}
		if err := s.users.Create(ctx, user); err != nil {
			return nil, nil, err
		}
	}
	if user.Status != domain.UserStatusActive {
		return nil, nil, apperrors.NewForbidden("account disabled")
	}

	pair, err := s.issuePair(ctx, user, device)
	if err != nil {
		return nil, nil, err
	}

	s.publish(events.EventUserLoggedIn, user.ID, events.UserLoggedInPayload{Device: device, Phone: phone})
	return user, pair, nil
}

// Refresh rotates a refresh token into a new pair, honoring revocation.
func (s *AuthService) Refresh(ctx context.Context, refreshToken, device string) (*domain.TokenPair, error) {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return nil, auth.ToDomainError(err)
	}
	if claims.TokenID == "" {
		return nil, apperrors.NewUnauthorized("refresh token lacks a revocation handle")
	}

	stored, err := s.refreshTokens.GetByID(ctx, claims.TokenID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewUnauthorized("refresh token not recognized")
		}
		return nil, err
	}
	if stored.RevokedAt != nil || time.Now().After(stored.ExpiresAt) {
		return nil, apperrors.NewUnauthorized("refresh token revoked or expired")
	}

	user, err := s.users.GetByID(ctx, stored.UserID)
	if err != nil {
		return nil, err
	}
	if user.Status != domain.UserStatusActive {
		return nil, apperrors.NewForbidden("account disabled")
	}

	if err := s.refreshTokens.Revoke(ctx, stored.ID); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	return s.issuePair(ctx, user, device)
}

// Logout revokes the presented refresh token.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		return auth.ToDomainError(err)
	}
	if claims.TokenID == "" {
		return nil
	}
	if err := s.refreshTokens.Revoke(ctx, claims.TokenID); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	s.publish(events.EventUserLoggedOut, claims.UserID, events.SessionRevokedPayload{TokenID: claims.TokenID, Reason: "logout"})
	return nil
}

// RevokeAllSessions invalidates every refresh token a user holds.
func (s *AuthService) RevokeAllSessions(ctx context.Context, userID string) error {
	if err := s.refreshTokens.RevokeAllForUser(ctx, userID); err != nil {
		return err
	}
	s.publish(events.EventSessionRevoked, userID, events.SessionRevokedPayload{Reason: "revoked by administrator"})
	return nil
}

func (s *AuthService) issuePair(ctx context.Context, user *domain.User, device string) (*domain.TokenPair, error) {
	access, accessExp, err := s.tokens.IssueAccess(user.ID, user.Role)
	if err != nil {
		return nil, err
	}

	tokenID := uuid.NewString()
	refresh, refreshExp, err := s.tokens.IssueRefresh(user.ID, user.Role, tokenID, device)
	if err != nil {
		return nil, err
	}

	if err := s.refreshTokens.Create(ctx, &repository.RefreshToken{
		ID:        tokenID,
		UserID:    user.ID,
		Device:    device,
		ExpiresAt: refreshExp,
	}); err != nil {
		return nil, err
	}

	return &domain.TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (s *AuthService) publish(eventType events.EventType, userID string, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(context.Background(), events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		Timestamp: time.Now(),
		Payload:   payload,
	})
}
