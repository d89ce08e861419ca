package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"ticketintel/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// ErrorResponse 错误响应结构
type ErrorResponse struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Code    int            `json:"code,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// SuccessResponse 成功响应结构
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// RunErrorResponse 批处理中途失败的响应，report 为已提交部分的报告
type RunErrorResponse struct {
	ErrorResponse
	Report any `json:"report"`
}

// respondError 按错误分类返回状态码，未分类错误返回 500
func respondError(c *gin.Context, logger *logrus.Logger, op string, err error) {
	status, body := errorBody(logger, op, err)
	c.JSON(status, body)
}

// respondRun 返回批处理报告；出错但已有报告时，错误状态码与报告一起返回
func respondRun[T any](c *gin.Context, logger *logrus.Logger, op string, report *T, err error) {
	switch {
	case err == nil:
		c.JSON(http.StatusOK, report)
	case report == nil:
		respondError(c, logger, op, err)
	default:
		status, body := errorBody(logger, op, err)
		c.JSON(status, RunErrorResponse{ErrorResponse: body, Report: report})
	}
}

func errorBody(logger *logrus.Logger, op string, err error) (int, ErrorResponse) {
	if ee, ok := services.AsEngineError(err); ok {
		status := ee.HTTPStatus()
		if status >= http.StatusInternalServerError {
			logger.Errorf("%s failed: %v", op, err)
		}
		return status, ErrorResponse{
			Error:   string(ee.Kind),
			Message: ee.Error(),
			Code:    status,
			Details: ee.Details,
		}
	}
	logger.Errorf("%s failed: %v", op, err)
	return http.StatusInternalServerError, ErrorResponse{
		Error:   "INTERNAL",
		Message: err.Error(),
		Code:    http.StatusInternalServerError,
	}
}

// bindOptionalJSON 空请求体视为全部使用默认值
func bindOptionalJSON(c *gin.Context, obj any) error {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func badRequest(c *gin.Context, message string, err error) {
	c.JSON(http.StatusBadRequest, ErrorResponse{
		Error:   string(services.KindValidation),
		Message: message + ": " + err.Error(),
		Code:    http.StatusBadRequest,
	})
}

// parseIDParam 解析路径中的正整数 ID
func parseIDParam(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   string(services.KindValidation),
			Message: name + " must be a positive integer",
			Code:    http.StatusBadRequest,
		})
		return 0, false
	}
	return uint(id), true
}
