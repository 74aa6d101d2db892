package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

// maxRotationAttempts bounds the insert retries of one rotation.
const maxRotationAttempts = 2

// TokenIssuer is the part of *Issuer the service depends on.
type TokenIssuer interface {
	IssueAccess(p *users.Principal) (AccessToken, error)
	NewRefreshValue(principalID int64, attempt int) (string, time.Time, error)
}

// Auditor records audit trail entries. *shared.AuditLogger satisfies it.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Recorder counts authentication outcomes.
type Recorder interface {
	ObserveAuth(operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveAuth(string, string) {}

// Option customises a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithAuditor enables best-effort audit records.
func WithAuditor(a Auditor) Option {
	return func(s *Service) { s.auditor = a }
}

// WithRecorder sets the outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service wraps authentication business rules.
type Service struct {
	verifier  *Verifier
	directory Directory
	tokens    TokenIssuer
	store     RefreshTokenStore
	auditor   Auditor
	recorder  Recorder
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs a new Service.
func NewService(directory Directory, tokens TokenIssuer, store RefreshTokenStore, opts ...Option) *Service {
	s := &Service{
		verifier:  NewVerifier(directory),
		directory: directory,
		tokens:    tokens,
		store:     store,
		recorder:  nopRecorder{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Login verifies credentials and starts a session. Any previous refresh
// token of the principal stops being valid.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	principal, err := s.verifier.Verify(ctx, email, password)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidCredentials) {
			s.recorder.ObserveAuth("login", "denied")
			s.logger.Info("login rejected", slog.String("email", shared.RedactEmail(email)))
		} else {
			s.recorder.ObserveAuth("login", "error")
		}
		return nil, err
	}

	access, err := s.tokens.IssueAccess(principal)
	if err != nil {
		s.recorder.ObserveAuth("login", "error")
		return nil, err
	}

	var refresh string
	err = s.store.WithTx(ctx, func(ctx context.Context, tx RefreshTokenTx) error {
		refresh, err = s.rotate(ctx, tx, principal.ID)
		return err
	})
	if err != nil {
		s.recorder.ObserveAuth("login", "error")
		return nil, fmt.Errorf("auth: login rotation: %w", err)
	}

	s.recorder.ObserveAuth("login", "success")
	s.audit(ctx, shared.AuditLogin, principal.ID)
	return &Session{
		AccessToken:     access.Token,
		AccessExpiresAt: access.ExpiresAt,
		RefreshToken:    refresh,
		Principal:       Project(principal),
	}, nil
}

// Refresh redeems a refresh token exactly once and rotates it. Concurrent
// redeemers of the same token serialize on the principal lock; all but the
// first find no row and get shared.ErrUnauthenticated.
func (s *Service) Refresh(ctx context.Context, token string) (*Session, error) {
	if strings.TrimSpace(token) == "" {
		s.recorder.ObserveAuth("refresh", "denied")
		return nil, shared.ErrUnauthenticated
	}

	var session *Session
	err := s.store.WithTx(ctx, func(ctx context.Context, tx RefreshTokenTx) error {
		found, err := tx.FindByToken(ctx, token)
		if err != nil {
			return notFoundAsUnauthenticated(err)
		}
		if err := tx.LockPrincipal(ctx, found.PrincipalID); err != nil {
			return notFoundAsUnauthenticated(err)
		}
		row, err := tx.FindByToken(ctx, token)
		if err != nil {
			return notFoundAsUnauthenticated(err)
		}
		if row.Expired(s.now()) {
			return shared.ErrUnauthenticated
		}

		principal, err := tx.FindPrincipal(ctx, row.PrincipalID)
		if err != nil {
			return notFoundAsUnauthenticated(err)
		}
		if !principal.HasAccess() {
			return shared.ErrUnauthenticated
		}
		principal.PasswordHash = ""

		access, err := s.tokens.IssueAccess(principal)
		if err != nil {
			return err
		}
		if _, err := tx.DeleteByID(ctx, row.ID); err != nil {
			return err
		}
		next, err := s.rotate(ctx, tx, principal.ID)
		if err != nil {
			return err
		}

		session = &Session{
			AccessToken:     access.Token,
			AccessExpiresAt: access.ExpiresAt,
			RefreshToken:    next,
			Principal:       Project(principal),
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, shared.ErrUnauthenticated) {
			s.recorder.ObserveAuth("refresh", "denied")
			return nil, shared.ErrUnauthenticated
		}
		s.recorder.ObserveAuth("refresh", "error")
		return nil, fmt.Errorf("auth: refresh: %w", err)
	}

	s.recorder.ObserveAuth("refresh", "success")
	s.audit(ctx, shared.AuditRefresh, session.Principal.ID)
	return session, nil
}

// Logout deletes every refresh token of the principal. It never fails;
// internal errors are logged.
func (s *Service) Logout(ctx context.Context, principalID int64) {
	err := s.store.WithTx(ctx, func(ctx context.Context, tx RefreshTokenTx) error {
		if err := tx.LockPrincipal(ctx, principalID); err != nil && !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		_, err := tx.DeleteByPrincipal(ctx, principalID)
		return err
	})
	if err != nil {
		s.recorder.ObserveAuth("logout", "error")
		s.logger.Warn("logout failed", slog.Int64("principal_id", principalID), slog.Any("error", err))
		return
	}
	s.recorder.ObserveAuth("logout", "success")
	s.audit(ctx, shared.AuditLogout, principalID)
}

// Me returns the projection of the principal.
func (s *Service) Me(ctx context.Context, principalID int64) (PublicPrincipal, error) {
	p, err := s.directory.FindByID(ctx, principalID)
	if err != nil {
		return PublicPrincipal{}, notFoundAsUnauthenticated(err)
	}
	return Project(p), nil
}

// rotate replaces all refresh tokens of principalID with a new one inside tx.
// The principal lock is taken first so that rotations of one principal never
// interleave.
func (s *Service) rotate(ctx context.Context, tx RefreshTokenTx, principalID int64) (string, error) {
	if err := tx.LockPrincipal(ctx, principalID); err != nil {
		return "", err
	}
	if _, err := tx.DeleteByPrincipal(ctx, principalID); err != nil {
		return "", err
	}

	for attempt := 0; attempt < maxRotationAttempts; attempt++ {
		value, expiresAt, err := s.tokens.NewRefreshValue(principalID, attempt)
		if err != nil {
			return "", err
		}
		_, err = tx.Insert(ctx, RefreshToken{Token: value, PrincipalID: principalID, ExpiresAt: expiresAt})
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, shared.ErrConflict) {
			return "", err
		}
		s.logger.Warn("refresh token collision", slog.Int64("principal_id", principalID), slog.Int("attempt", attempt))
	}
	return "", ErrRefreshCollision
}

func (s *Service) audit(ctx context.Context, action string, principalID int64) {
	if s.auditor == nil {
		return
	}
	entry := shared.AuditLog{
		ActorID:  principalID,
		Action:   action,
		Entity:   "user",
		EntityID: strconv.FormatInt(principalID, 10),
		At:       s.now(),
	}
	if err := s.auditor.Record(ctx, entry); err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}

func notFoundAsUnauthenticated(err error) error {
	if errors.Is(err, shared.ErrNotFound) {
		return shared.ErrUnauthenticated
	}
	return err
}
