package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
	"github.com/odyssey-erp/odyssey-iam/internal/users"
)

//go:generate mockgen -destination=mocks/pipeline.go -package=mocks . Directory,TokenVerifier

// Directory resolves principals by id.
type Directory interface {
	FindByID(ctx context.Context, id int64) (*users.Principal, error)
}

// TokenVerifier checks an access token and returns its subject id.
type TokenVerifier interface {
	VerifySubject(token string) (int64, error)
}

// Recorder counts pipeline decisions.
type Recorder interface {
	ObservePipeline(stage, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObservePipeline(string, string) {}

// Stage names, in evaluation order.
const (
	StagePublic     = "public"
	StageBearer     = "bearer"
	StageRole       = "role"
	StagePermission = "permission"
)

// StageError is a denial or failure raised by one stage.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return "rbac: " + e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

func deny(stage string, err error) error {
	return &StageError{Stage: stage, Err: err}
}

// Pipeline evaluates the authorization stages for a route.
type Pipeline struct {
	verifier  TokenVerifier
	directory Directory
	loginPath string
	logger    *slog.Logger
	recorder  Recorder
}

// PipelineOption customises a Pipeline.
type PipelineOption func(*Pipeline)

// WithPipelineLogger sets the logger.
func WithPipelineLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithPipelineRecorder sets the decision recorder.
func WithPipelineRecorder(r Recorder) PipelineOption {
	return func(p *Pipeline) {
		if r != nil {
			p.recorder = r
		}
	}
}

// NewPipeline constructs a Pipeline. Requests to loginPath always pass.
func NewPipeline(verifier TokenVerifier, directory Directory, loginPath string, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		verifier:  verifier,
		directory: directory,
		loginPath: loginPath,
		logger:    slog.Default(),
		recorder:  nopRecorder{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Authorize runs the stages for entry in order and stops at the first
// denial. On success the returned context carries the principal unless the
// route is public.
func (p *Pipeline) Authorize(r *http.Request, entry Entry) (context.Context, error) {
	ctx := r.Context()

	// Stage A
	if p.isPublic(entry) {
		return ctx, nil
	}

	// Stage B
	token, ok := bearerToken(r.Header.Get("Authorization"))
	if !ok {
		return nil, deny(StageBearer, shared.ErrUnauthenticated)
	}
	id, err := p.verifier.VerifySubject(token)
	if err != nil {
		return nil, deny(StageBearer, fmt.Errorf("%w: %w", shared.ErrUnauthenticated, err))
	}
	principal, err := p.resolve(ctx, id)
	if err != nil {
		return nil, deny(StageBearer, err)
	}
	if !principal.HasAccess() {
		return nil, deny(StageBearer, shared.ErrUnauthenticated)
	}
	ctx = shared.ContextWithPrincipal(ctx, shared.Principal{
		ID:    principal.ID,
		Email: principal.Email,
		Role:  principal.Role.Name,
	})

	// Stage C
	if len(entry.Policy.Roles) > 0 && !hasRole(principal.Role.Name, entry.Policy.Roles) {
		return nil, deny(StageRole, shared.ErrForbidden)
	}

	// Stage D reads the directory again so that a permission revoked after
	// Stage B is already in effect.
	if len(entry.Policy.Permissions) > 0 {
		fresh, err := p.resolve(ctx, id)
		if err != nil {
			return nil, deny(StagePermission, err)
		}
		if !hasAllPermissions(EffectivePermissions(fresh), entry.Policy.Permissions) {
			return nil, deny(StagePermission, shared.ErrForbidden)
		}
	}

	return ctx, nil
}

func (p *Pipeline) isPublic(entry Entry) bool {
	return entry.Policy.Public || entry.Path == p.loginPath
}

func (p *Pipeline) finalStage(entry Entry) string {
	switch {
	case p.isPublic(entry):
		return StagePublic
	case len(entry.Policy.Permissions) > 0:
		return StagePermission
	case len(entry.Policy.Roles) > 0:
		return StageRole
	default:
		return StageBearer
	}
}

func (p *Pipeline) resolve(ctx context.Context, id int64) (*users.Principal, error) {
	principal, err := p.directory.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, shared.ErrUnauthenticated
		}
		return nil, fmt.Errorf("resolve principal: %w", err)
	}
	return principal, nil
}

// Guard wraps next with the stages bound to entry.
func (p *Pipeline) Guard(entry Entry, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, err := p.Authorize(r, entry)
		if err != nil {
			p.reject(w, r, entry, err)
			return
		}
		p.recorder.ObservePipeline(p.finalStage(entry), "allow")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (p *Pipeline) reject(w http.ResponseWriter, r *http.Request, entry Entry, err error) {
	stage := "unknown"
	var se *StageError
	if errors.As(err, &se) {
		stage = se.Stage
	}
	attrs := []any{
		slog.String("stage", stage),
		slog.String("method", entry.Method),
		slog.String("route", entry.Path),
	}
	switch {
	case errors.Is(err, shared.ErrUnauthenticated), errors.Is(err, shared.ErrForbidden):
		p.recorder.ObservePipeline(stage, "deny")
		p.logger.Debug("request denied", append(attrs, slog.String("reason", err.Error()))...)
	default:
		p.recorder.ObservePipeline(stage, "error")
		p.logger.Error("authorization failed", append(attrs, slog.Any("error", err))...)
	}
	httpx.RespondError(w, err)
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
