// Package handlers implements the HTTP handlers of the CertifyChain API.
// Errors are answered as {"error": message, "code": kind}, with the status
// derived from the apperr kind.
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Abdullah-AboOun/CertifyChain/internal/apperr"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error string      `json:"error"`
	Code  apperr.Kind `json:"code"`
}

func respondError(c *gin.Context, logger *zap.Logger, msg string, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, zap.String("path", c.FullPath()), zap.Error(err))
	} else {
		logger.Debug(msg, zap.String("path", c.FullPath()), zap.Error(err))
	}

	text := err.Error()
	if kind == apperr.KindInternal {
		text = msg
	}
	c.JSON(status, ErrorResponse{Error: text, Code: kind})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: apperr.KindValidation})
}

func certificateID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.Validation("invalid certificate id %q", c.Param("id"))
	}
	return uint(id), nil
}

func queryInt(c *gin.Context, name string) (int, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Validation("invalid %s %q", name, v)
	}
	return n, nil
}

// ChainLinkRequest carries a confirmed chain write to attach to a row
type ChainLinkRequest struct {
	BlockchainID    string `json:"blockchain_id"`
	TransactionHash string `json:"transaction_hash"`
}
