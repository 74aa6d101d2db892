package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-iam/internal/platform/httpx"
)

// Catalogue lists roles and permissions. *Service satisfies it.
type Catalogue interface {
	ListRoles(ctx context.Context) ([]Role, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
}

// PermissionsHandler serves the role and permission listings.
type PermissionsHandler struct {
	logger    *slog.Logger
	catalogue Catalogue
}

// NewPermissionsHandler builds PermissionsHandler instance.
func NewPermissionsHandler(logger *slog.Logger, catalogue Catalogue) *PermissionsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PermissionsHandler{logger: logger, catalogue: catalogue}
}

// ListRoles serves GET /roles.
func (h *PermissionsHandler) ListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.catalogue.ListRoles(r.Context())
	if err != nil {
		h.logger.Error("list roles failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

// ListPermissions serves GET /permissions.
func (h *PermissionsHandler) ListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.catalogue.ListPermissions(r.Context())
	if err != nil {
		h.logger.Error("list permissions failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}
