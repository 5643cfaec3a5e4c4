package contact

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	contactrepo "github.com/Ramsey-B/sorrel/internal/repositories/contact"
	"github.com/Ramsey-B/sorrel/pkg/models"
	"github.com/Ramsey-B/sorrel/pkg/reconcile"
)

// Register registers contact inspection routes
func Register(g *echo.Group) {
	g.GET("", ListContacts)
	g.GET("/:id", GetContact)
	g.GET("/:id/cluster", GetContactCluster)
}

// ListContacts lists contacts with pagination
func ListContacts(c echo.Context) error {
	ctx := c.Request().Context()

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))

	ctx, repo, err := ectoinject.GetContext[*contactrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	resp, err := repo.List(ctx, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}

// GetContact gets a single contact row by id
func GetContact(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid contact id")
	}

	ctx, repo, err := ectoinject.GetContext[*contactrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	contact, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, contact)
}

// GetContactCluster returns the full cluster a contact belongs to along with
// its consolidated projection
func GetContactCluster(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid contact id")
	}

	ctx, repo, err := ectoinject.GetContext[*contactrepo.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	contact, err := repo.Get(ctx, id)
	if err != nil {
		return err
	}

	cluster, err := repo.GetCluster(ctx, contact.RootID())
	if err != nil {
		return err
	}

	view, err := reconcile.BuildClusterView(cluster)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "contact cluster is inconsistent")
	}

	return c.JSON(http.StatusOK, models.ClusterResponse{
		Contact: *view,
		Members: cluster,
	})
}
