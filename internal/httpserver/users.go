package httpserver

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Skotchmaster/vera/internal/access"
	"github.com/Skotchmaster/vera/internal/models"
	"github.com/Skotchmaster/vera/internal/service"
)

type UsersHTTP struct {
	Svc *service.UserService
}

type updateUserRequest struct {
	FirstName *string `json:"firstName" validate:"omitempty,max=100"`
	LastName  *string `json:"lastName" validate:"omitempty,max=100"`
	IsAdmin   *bool   `json:"isAdmin"`
	Role      *string `json:"role" validate:"omitempty,oneof=USER ADMIN"`
}

func principal(c echo.Context) (access.Principal, error) {
	p, ok := access.FromContext(c.Request().Context())
	if !ok {
		return access.Principal{}, echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}
	return p, nil
}

func pathID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return uint(id), nil
}

func profiles(users []models.User) []models.Profile {
	out := make([]models.Profile, 0, len(users))
	for _, u := range users {
		out = append(out, u.Profile())
	}
	return out
}

func (h *UsersHTTP) List(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	page, _ := strconv.Atoi(c.QueryParam("page"))
	size, _ := strconv.Atoi(c.QueryParam("size"))

	res, err := h.Svc.List(c.Request().Context(), p, page, size)
	if err != nil {
		return err
	}
	return respondPage(c, profiles(res.Users), pageMeta{Total: res.Total, Page: res.Page, Size: res.Size})
}

func (h *UsersHTTP) Get(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	u, err := h.Svc.Get(c.Request().Context(), p, id)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, u.Profile())
}

func (h *UsersHTTP) GetByEmail(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	u, err := h.Svc.GetByEmail(c.Request().Context(), p, c.Param("email"))
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, u.Profile())
}

func (h *UsersHTTP) Update(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req updateUserRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	u, err := h.Svc.Update(c.Request().Context(), p, id, service.UserUpdate{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		IsAdmin:   req.IsAdmin,
		Role:      req.Role,
	})
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, u.Profile())
}

func (h *UsersHTTP) Disable(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.Svc.Disable(c.Request().Context(), p, id); err != nil {
		return err
	}
	return respond(c, http.StatusOK, "user disabled")
}
