package identify

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/reconcile"
)

var validate = validator.New()

// Register registers the identify route
func Register(g *echo.Group) {
	g.POST("", Identify)
}

// Identify reconciles an incoming contact against stored clusters and returns
// the consolidated identity
func Identify(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.IdentifyRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	req.Normalize()
	if err := validate.Struct(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "email or phoneNumber is required")
	}

	ctx, service, err := ectoinject.GetContext[*reconcile.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	view, err := service.Identify(ctx, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.IdentifyResponse{Contact: *view})
}
