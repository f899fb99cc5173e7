package identify

import (
	"context"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/clover/pkg/events"
	"github.com/Ramsey-B/clover/pkg/logging"
	"github.com/Ramsey-B/clover/pkg/models"
)

// ResolverService is the identity resolution operation the route needs.
type ResolverService interface {
	Resolve(ctx context.Context, email, phoneNumber string) (*models.Resolution, error)
}

// Handler serves the identify endpoint
type Handler struct {
	resolver ResolverService
	emitter  *events.Emitter
	validate *validator.Validate
	logger   logging.Logger
}

// NewHandler creates a new identify handler. A nil emitter disables event
// emission.
func NewHandler(resolver ResolverService, emitter *events.Emitter, logger logging.Logger) *Handler {
	return &Handler{
		resolver: resolver,
		emitter:  emitter,
		validate: validator.New(),
		logger:   logger,
	}
}

// Register registers identify routes
func (h *Handler) Register(g *echo.Group) {
	g.POST("/identify", h.Identify)
}

// Identify resolves the identity described by the request body and returns
// the consolidated contact view.
func (h *Handler) Identify(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.IdentifyRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := h.validate.StructCtx(ctx, &req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "email or phoneNumber is required")
	}

	resolution, err := h.resolver.Resolve(ctx, req.Email, req.PhoneNumber)
	if err != nil {
		return err
	}

	h.emitter.EmitResolution(ctx, resolution)

	return c.JSON(http.StatusOK, models.IdentifyResponse{Contact: resolution.View})
}
