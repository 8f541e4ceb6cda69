package transfers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/clark-center/change-object-author/internal/model"
	registrystore "github.com/clark-center/change-object-author/internal/registry/store"
	"github.com/clark-center/change-object-author/internal/security"
	"github.com/clark-center/change-object-author/internal/service"
	"github.com/gin-gonic/gin"
)

// HeaderTransferID carries the transfer ID on successful responses.
const HeaderTransferID = "X-Transfer-Id"

// Transferer runs an author transfer.
type Transferer interface {
	Transfer(ctx context.Context, req model.TransferRequest, authToken string) (*service.TransferResult, error)
}

// MountRoutes mounts the change-author route. The root path is mounted too;
// the Lambda entry point sends every POST there.
func MountRoutes(r *gin.Engine, svc Transferer, auth gin.HandlerFunc) {
	handler := func(c *gin.Context) {
		changeAuthor(c, svc)
	}
	r.POST("/learning-objects/change-author", auth, handler)
	r.POST("/", auth, handler)
}

func changeAuthor(c *gin.Context, svc Transferer) {
	var req model.TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		msg := err.Error()
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		handleError(c, &registrystore.ValidationError{Field: "body", Message: msg})
		return
	}

	res, err := svc.Transfer(c.Request.Context(), req, security.GetAuthToken(c))
	if err != nil {
		handleError(c, err)
		return
	}

	c.Header("Access-Control-Allow-Origin", "*")
	c.Header(HeaderTransferID, res.TransferID)
	c.Status(http.StatusOK)
}

func handleError(c *gin.Context, err error) {
	var validation *registrystore.ValidationError
	var precondition *registrystore.PreconditionError
	var notFound *registrystore.NotFoundError
	var conflict *registrystore.ConflictError
	var persistence *registrystore.PersistenceError

	c.Header("Access-Control-Allow-Origin", "*")
	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "bad_request", "error": err.Error()})
	case errors.As(err, &precondition):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "precondition_failed", "error": err.Error()})
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &conflict):
		resp := gin.H{"error": conflict.Message}
		if conflict.Code != "" {
			resp["code"] = conflict.Code
		}
		c.JSON(http.StatusConflict, resp)
	case errors.As(err, &persistence):
		log.Error("Transfer failed to persist", "objectId", persistence.ObjectID, "err", persistence.Err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "persistence_failed", "error": "failed to update learning object author"})
	default:
		log.Error("Transfer failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "internal_error", "error": "internal server error"})
	}
}
