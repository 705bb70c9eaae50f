package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"trade-ledger/internal/models"
	"trade-ledger/internal/service"
	"trade-ledger/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxUploadBytes = 10 << 20

// statusFor maps a ledger error to its HTTP status. Unknown errors are 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, models.ErrInsufficientStock),
		errors.Is(err, models.ErrInsufficientFunds),
		errors.Is(err, models.ErrLocked),
		errors.Is(err, models.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, models.ErrDuplicateRequest),
		errors.Is(err, models.ErrAlreadyReviewed),
		errors.Is(err, models.ErrReferentialConflict):
		return http.StatusConflict
	case errors.Is(err, models.ErrTransient):
		return http.StatusServiceUnavailable
	case errors.Is(err, models.ErrStorage):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the mapped status. Internal errors are logged and
// reported generically; a post-commit storage failure carries the saved data.
func writeError(c *gin.Context, err error, saved interface{}) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		util.GetLogger().Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}

	body := gin.H{"error": err.Error()}
	var storageErr *service.StorageError
	if errors.As(err, &storageErr) {
		body["committed"] = storageErr.Committed
		body["data"] = saved
		body["error"] = "data saved, file storage failed, contact support"
	}
	c.JSON(status, body)
}

// respond writes data with status, or the error if the call failed
func respond(c *gin.Context, status int, data interface{}, err error) {
	if err != nil {
		writeError(c, err, data)
		return
	}
	c.JSON(status, data)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}

// readFile loads a multipart upload. A missing optional field yields nil.
func readFile(c *gin.Context, field string, required bool) (*service.File, error) {
	header, err := c.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) && !required {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: file %q is required", models.ErrValidation, field)
	}
	if header.Size > maxUploadBytes {
		return nil, fmt.Errorf("%w: file %q exceeds %d bytes", models.ErrValidation, field, maxUploadBytes)
	}

	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	body, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		return nil, err
	}
	return &service.File{
		Name:        header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}

// readFiles loads every upload under field
func readFiles(c *gin.Context, field string) ([]service.File, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, fmt.Errorf("%w: multipart form expected", models.ErrValidation)
	}

	files := make([]service.File, 0, len(form.File[field]))
	for _, header := range form.File[field] {
		if header.Size > maxUploadBytes {
			return nil, fmt.Errorf("%w: %s exceeds %d bytes", models.ErrValidation, header.Filename, maxUploadBytes)
		}
		f, err := header.Open()
		if err != nil {
			return nil, err
		}
		body, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
		f.Close()
		if err != nil {
			return nil, err
		}
		files = append(files, service.File{
			Name:        header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Body:        body,
		})
	}
	return files, nil
}

// formDecimal parses a money field; empty yields zero
func formDecimal(c *gin.Context, field string) (decimal.Decimal, error) {
	raw := strings.TrimSpace(c.PostForm(field))
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s must be a number", models.ErrValidation, field)
	}
	return d, nil
}
