package webserver

import (
	"net/http"
	"strconv"

	"github.com/Sar-kit/tus2/internal/coordinator"
	"github.com/Sar-kit/tus2/internal/tus"
	"github.com/Sar-kit/tus2/internal/webserver/weberror"
	"github.com/labstack/echo/v4"
	"github.com/mdouchement/logger"
	"github.com/pkg/errors"
)

type upload struct {
	logger      logger.Logger
	coordinator *coordinator.Coordinator
}

// Options advertises the protocol version and extensions.
func (h *upload) Options(c echo.Context) error {
	c.Set("handler_method", "upload.Options")

	c.Response().Header().Set(tus.HeaderResumable, tus.Version)
	c.Response().Header().Set(tus.HeaderVersion, tus.Version)
	c.Response().Header().Set(tus.HeaderExtension, "creation")
	return c.NoContent(http.StatusNoContent)
}

// Create registers a new upload and returns its location.
func (h *upload) Create(c echo.Context) error {
	c.Set("handler_method", "upload.Create")

	metadata, dropped := tus.DecodeMetadata(c.Request().Header.Get(tus.HeaderUploadMeta))
	for _, key := range dropped {
		h.logger.Infof("upload.Create: dropped malformed metadata entry %q", key)
	}

	declared := int64(-1)
	if v := c.Request().Header.Get(tus.HeaderUploadLength); v != "" {
		var err error
		declared, err = strconv.ParseInt(v, 10, 64)
		if err != nil || declared < 0 {
			return weberror.New(http.StatusBadRequest, "invalid Upload-Length")
		}
	}

	//

	media, err := h.coordinator.Create(metadata, declared)
	if err != nil {
		return h.weberror(err)
	}

	// A declared empty upload has no chunk to trigger completion.
	if media.DeclaredSize == 0 {
		if _, err := h.coordinator.Finalize(media.ID); err != nil {
			return h.weberror(err)
		}
	}

	//

	c.Response().Header().Set(tus.HeaderResumable, tus.Version)
	c.Response().Header().Set(tus.HeaderUploadOffset, "0")
	c.Response().Header().Set(echo.HeaderLocation, "/uploads/"+media.ID)
	return c.NoContent(http.StatusCreated)
}

// Write receives one chunk at the offset declared by the client.
func (h *upload) Write(c echo.Context) error {
	c.Set("handler_method", "upload.Write")

	if c.Request().Header.Get(tus.HeaderContentType) != tus.ContentTypeOffset {
		return weberror.New(http.StatusUnsupportedMediaType, "expected "+tus.ContentTypeOffset)
	}

	offset, err := strconv.ParseInt(c.Request().Header.Get(tus.HeaderUploadOffset), 10, 64)
	if err != nil || offset < 0 {
		return weberror.New(http.StatusBadRequest, "invalid Upload-Offset")
	}

	//

	media, err := h.coordinator.Write(c.Param("upload"), offset, c.Request().Body)
	if err != nil {
		return h.weberror(err)
	}

	// The last chunk triggers the completion bookkeeping.
	if media.DeclaredSize >= 0 && media.Offset == media.DeclaredSize {
		media, err = h.coordinator.Finalize(media.ID)
		if err != nil {
			return h.weberror(err)
		}
	}

	//

	c.Response().Header().Set(tus.HeaderResumable, tus.Version)
	c.Response().Header().Set(tus.HeaderUploadOffset, strconv.FormatInt(media.Offset, 10))
	return c.NoContent(http.StatusNoContent)
}

// Offset reports the acknowledged offset, used by clients to reconcile
// after a restart.
func (h *upload) Offset(c echo.Context) error {
	c.Set("handler_method", "upload.Offset")

	media, err := h.coordinator.Offset(c.Param("upload"))
	if err != nil {
		return h.weberror(err)
	}

	//

	c.Response().Header().Set(tus.HeaderResumable, tus.Version)
	c.Response().Header().Set(tus.HeaderUploadOffset, strconv.FormatInt(media.Offset, 10))
	if media.DeclaredSize >= 0 {
		c.Response().Header().Set(tus.HeaderUploadLength, strconv.FormatInt(media.DeclaredSize, 10))
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.NoContent(http.StatusOK)
}

// Download streams the durable object of a completed upload.
func (h *upload) Download(c echo.Context) error {
	c.Set("handler_method", "upload.Download")

	media, rc, err := h.coordinator.FileReader(c.Param("upload"))
	if err != nil {
		return h.weberror(err)
	}
	defer rc.Close()

	contenttype := media.MimeType
	if contenttype == "" {
		contenttype = echo.MIMEOctetStream
	}

	c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(media.Size, 10))
	return c.Stream(http.StatusOK, contenttype, rc)
}

// weberror maps the coordinator errors to their HTTP classification.
func (h *upload) weberror(err error) error {
	var oerr *coordinator.OffsetError
	if errors.As(err, &oerr) {
		return weberror.NewWithHeaders(http.StatusConflict, err.Error(), map[string]string{
			tus.HeaderUploadOffset: strconv.FormatInt(oerr.Acknowledged, 10),
		})
	}

	switch errors.Cause(err) {
	case coordinator.ErrFormRequired, coordinator.ErrUnknownForm:
		return weberror.New(http.StatusBadRequest, err.Error())
	case coordinator.ErrUnknownUpload:
		return weberror.New(http.StatusNotFound, err.Error())
	case coordinator.ErrUploadGone:
		return weberror.New(http.StatusGone, err.Error())
	}
	return weberror.New(http.StatusInternalServerError, err.Error())
}
