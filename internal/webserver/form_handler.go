package webserver

import (
	"net/http"

	"github.com/Sar-kit/tus2/internal/database"
	"github.com/Sar-kit/tus2/internal/model"
	"github.com/Sar-kit/tus2/internal/webserver/serializer"
	"github.com/Sar-kit/tus2/internal/webserver/weberror"
	"github.com/labstack/echo/v4"
	"github.com/mdouchement/logger"
)

type form struct {
	logger logger.Logger
	db     database.Client
}

type formparams struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (h *form) Create(c echo.Context) error {
	c.Set("handler_method", "form.Create")

	var params formparams
	if err := c.Bind(&params); err != nil {
		return weberror.New(http.StatusBadRequest, err.Error())
	}

	//

	form := &model.Form{
		Title:       params.Title,
		Description: params.Description,
	}
	if err := h.db.Save(form); err != nil {
		return weberror.New(http.StatusInternalServerError, err.Error())
	}

	return c.JSON(http.StatusCreated, echo.Map{
		"id": form.ID,
	})
}

func (h *form) List(c echo.Context) error {
	c.Set("handler_method", "form.List")

	forms, err := h.db.ListForms()
	if err != nil {
		return weberror.New(http.StatusInternalServerError, err.Error())
	}

	media := make(map[string][]*model.Media, len(forms))
	for _, form := range forms {
		media[form.ID], err = h.db.FindMediaByFormID(form.ID)
		if err != nil {
			return weberror.New(http.StatusInternalServerError, err.Error())
		}
	}

	//

	return c.JSON(http.StatusOK, echo.Map{
		"forms": serializer.Forms(forms, media),
	})
}
