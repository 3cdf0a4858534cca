// handlers_requirements.go - Stateless requirement and quality handlers
package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/incapacidades/backend/internal/quality"
	"github.com/incapacidades/backend/internal/requirements"
)

// RequirementsHandlerImpl implements the RequirementsHandler interface
type RequirementsHandlerImpl struct {
	resolver *requirements.Resolver
}

// NewRequirementsHandler creates a new requirements handler
func NewRequirementsHandler(resolver *requirements.Resolver) RequirementsHandler {
	if resolver == nil {
		resolver = requirements.NewResolver(nil)
	}
	return &RequirementsHandlerImpl{resolver: resolver}
}

// HandleGetRequirements resolves the document labels for the query's claim answers.
// Unknown or incomplete answers are not an error: they resolve to an empty list.
func (h *RequirementsHandlerImpl) HandleGetRequirements(c echo.Context) error {
	ctx := requirements.Context{
		Category: requirements.Category(c.QueryParam("category")),
		Subtype:  requirements.Subtype(c.QueryParam("subtype")),
	}

	var err error
	if ctx.MotherWorks, err = queryBool(c, "motherWorks"); err != nil {
		return err
	}
	if ctx.PhantomVehicle, err = queryBool(c, "phantomVehicle"); err != nil {
		return err
	}
	if raw := c.QueryParam("days"); raw != "" {
		days, err := strconv.Atoi(raw)
		if err != nil {
			return NewValidationError("days", "days must be an integer")
		}
		ctx.DaysOfLeave = &days
	}

	labels := h.resolver.Resolve(ctx)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"context":   ctx,
		"documents": labels,
		"complete":  len(labels) > 0,
	})
}

func queryBool(c echo.Context, name string) (bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, NewValidationError(name, fmt.Sprintf("%s must be true or false", name))
	}
	return v, nil
}

// QualityHandlerImpl implements the QualityHandler interface
type QualityHandlerImpl struct {
	scorer   Scorer
	maxBytes int64
}

// NewQualityHandler creates a new quality handler
func NewQualityHandler(scorer Scorer, maxBytes int64) QualityHandler {
	return &QualityHandlerImpl{scorer: scorer, maxBytes: maxBytes}
}

// HandleScoreImage scores the multipart "file" part and returns its verdict
func (h *QualityHandlerImpl) HandleScoreImage(c echo.Context) error {
	f, err := readFormFile(c, "file", h.maxBytes)
	if err != nil {
		return err
	}
	v := h.scorer.Score(c.Request().Context(), f)
	return c.JSON(http.StatusOK, v)
}

// readFormFile loads a multipart file part fully into memory.
func readFormFile(c echo.Context, field string, maxBytes int64) (quality.File, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return quality.File{}, NewBadRequestError("no file provided", err)
	}
	if maxBytes > 0 && fh.Size > maxBytes {
		return quality.File{}, NewValidationError(field, fmt.Sprintf("el archivo supera %d bytes", maxBytes))
	}

	src, err := fh.Open()
	if err != nil {
		return quality.File{}, NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return quality.File{}, NewInternalError("failed to read uploaded file", err)
	}
	if len(data) == 0 {
		return quality.File{}, NewValidationError(field, "archivo vacío")
	}

	return quality.File{
		Name:     fh.Filename,
		MIMEType: fh.Header.Get(echo.HeaderContentType),
		Data:     data,
	}, nil
}
