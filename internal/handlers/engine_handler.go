package handlers

import (
	"net/http"
	"strconv"

	"ticketintel/internal/services"
	"ticketintel/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// EngineHandler 批处理引擎的 HTTP 入口
type EngineHandler struct {
	suggestions *services.SuggestionService
	clusters    *services.ClusterService
	sla         *services.SLAService
	assignments *services.AssignmentService
	logger      *logrus.Logger
}

// NewEngineHandler 创建引擎处理器
func NewEngineHandler(
	suggestions *services.SuggestionService,
	clusters *services.ClusterService,
	sla *services.SLAService,
	assignments *services.AssignmentService,
	logger *logrus.Logger,
) *EngineHandler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EngineHandler{
		suggestions: suggestions,
		clusters:    clusters,
		sla:         sla,
		assignments: assignments,
		logger:      logger,
	}
}

// RegisterRoutes 注册 /engine 路由
func (h *EngineHandler) RegisterRoutes(r *gin.RouterGroup) {
	engine := r.Group("/engine")
	{
		engine.POST("/suggestions/recompute", h.RecomputeSuggestions)
		engine.GET("/tickets/:id/suggestions", h.ListSuggestions)
		engine.POST("/tickets/:id/suggestions/:sid/accept", h.AcceptSuggestion)
		engine.POST("/tickets/:id/suggestions/:sid/reject", h.RejectSuggestion)
		engine.POST("/tickets/:id/assign", h.AssignTicket)

		engine.POST("/clusters/retrain", h.RetrainClusters)
		engine.GET("/clusters", h.ListClusters)

		engine.POST("/sla/evaluate", h.EvaluateSLA)
		engine.POST("/assignments/recompute", h.RecomputeAssignments)
	}
}

// RecomputeSuggestions 重算标签建议
// @Summary 重算标签建议
// @Tags 引擎
// @Accept json
// @Produce json
// @Param options body services.RecomputeOptions false "范围与阈值"
// @Success 200 {object} services.RecomputeReport
// @Failure 400 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 503 {object} RunErrorResponse
// @Router /api/v1/engine/suggestions/recompute [post]
func (h *EngineHandler) RecomputeSuggestions(c *gin.Context) {
	var req services.RecomputeOptions
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	report, err := h.suggestions.Recompute(c.Request.Context(), req)
	respondRun(c, h.logger, "recompute suggestions", report, err)
}

// ListSuggestions 查询工单的标签建议
// @Summary 查询工单的标签建议
// @Tags 引擎
// @Produce json
// @Param id path int true "工单ID"
// @Success 200 {array} models.LabelSuggestion
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/engine/tickets/{id}/suggestions [get]
func (h *EngineHandler) ListSuggestions(c *gin.Context) {
	ticketID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	suggestions, err := h.suggestions.List(c.Request.Context(), ticketID)
	if err != nil {
		respondError(c, h.logger, "list suggestions", err)
		return
	}
	c.JSON(http.StatusOK, suggestions)
}

// AcceptSuggestion 接受标签建议
// @Summary 接受标签建议
// @Tags 引擎
// @Produce json
// @Param id path int true "工单ID"
// @Param sid path int true "建议ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/engine/tickets/{id}/suggestions/{sid}/accept [post]
func (h *EngineHandler) AcceptSuggestion(c *gin.Context) {
	ticketID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	suggestionID, ok := parseIDParam(c, "sid")
	if !ok {
		return
	}
	suggestion, label, err := h.suggestions.Accept(c.Request.Context(), ticketID, suggestionID)
	if err != nil {
		respondError(c, h.logger, "accept suggestion", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{
		Message: "Suggestion accepted",
		Data:    gin.H{"suggestion": suggestion, "label": label},
	})
}

// RejectSuggestion 拒绝标签建议
// @Summary 拒绝标签建议
// @Tags 引擎
// @Produce json
// @Param id path int true "工单ID"
// @Param sid path int true "建议ID"
// @Success 200 {object} SuccessResponse
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/engine/tickets/{id}/suggestions/{sid}/reject [post]
func (h *EngineHandler) RejectSuggestion(c *gin.Context) {
	ticketID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	suggestionID, ok := parseIDParam(c, "sid")
	if !ok {
		return
	}
	suggestion, err := h.suggestions.Reject(c.Request.Context(), ticketID, suggestionID)
	if err != nil {
		respondError(c, h.logger, "reject suggestion", err)
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "Suggestion rejected", Data: suggestion})
}

// AssignTicket 对单个工单执行自动分配
// @Summary 单工单自动分配
// @Tags 引擎
// @Produce json
// @Param id path int true "工单ID"
// @Success 200 {object} services.AssignmentResult
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/engine/tickets/{id}/assign [post]
func (h *EngineHandler) AssignTicket(c *gin.Context) {
	ticketID, ok := parseIDParam(c, "id")
	if !ok {
		return
	}
	res, err := h.assignments.AssignOne(c.Request.Context(), ticketID)
	if err != nil {
		respondError(c, h.logger, "assign ticket", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// RetrainClusters 重新聚类
// @Summary 重新聚类
// @Tags 引擎
// @Accept json
// @Produce json
// @Param options body services.RetrainOptions false "聚类参数"
// @Success 200 {object} services.RetrainReport
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/engine/clusters/retrain [post]
func (h *EngineHandler) RetrainClusters(c *gin.Context) {
	var req services.RetrainOptions
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	report, err := h.clusters.Retrain(c.Request.Context(), req)
	respondRun(c, h.logger, "retrain clusters", report, err)
}

// ListClusters 查询聚类结果，ticket_ids 为逗号分隔的工单ID
func (h *EngineHandler) ListClusters(c *gin.Context) {
	var ids []uint
	for _, part := range utils.SplitCSV(c.Query("ticket_ids")) {
		id, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			badRequest(c, "Invalid ticket_ids", err)
			return
		}
		ids = append(ids, uint(id))
	}
	assignments, err := h.clusters.Assignments(c.Request.Context(), ids)
	if err != nil {
		respondError(c, h.logger, "list clusters", err)
		return
	}
	c.JSON(http.StatusOK, assignments)
}

// EvaluateSLA 评估 SLA 告警
// @Summary 评估 SLA 告警
// @Tags 引擎
// @Accept json
// @Produce json
// @Param options body services.EvaluateOptions false "评估参数"
// @Success 200 {object} services.SLAReport
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} RunErrorResponse
// @Router /api/v1/engine/sla/evaluate [post]
func (h *EngineHandler) EvaluateSLA(c *gin.Context) {
	var req services.EvaluateOptions
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	report, err := h.sla.Evaluate(c.Request.Context(), req)
	respondRun(c, h.logger, "evaluate sla", report, err)
}

// RecomputeAssignments 按规则重算分配
// @Summary 按规则重算分配
// @Tags 引擎
// @Accept json
// @Produce json
// @Param options body services.ScopeOptions false "范围"
// @Success 200 {object} services.AssignmentReport
// @Failure 400 {object} ErrorResponse
// @Failure 503 {object} RunErrorResponse
// @Router /api/v1/engine/assignments/recompute [post]
func (h *EngineHandler) RecomputeAssignments(c *gin.Context) {
	var req services.ScopeOptions
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, "Invalid request body", err)
		return
	}
	report, err := h.assignments.Recompute(c.Request.Context(), req)
	respondRun(c, h.logger, "recompute assignments", report, err)
}
