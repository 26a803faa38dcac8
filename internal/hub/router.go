package hub

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/farmseedhq/farmseed/internal/model"
	"github.com/farmseedhq/farmseed/internal/remote"
)

const deviceIDContextKey = "farmseed_device_id"

var (
	errMissingTokenIssuer   = errors.New("token issuer dependency required")
	errMissingHubService    = errors.New("hub service dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// DeviceTokenIssuer mints and validates the bearer tokens agents present.
type DeviceTokenIssuer interface {
	IssueDeviceToken(ctx context.Context, deviceID string) (string, int64, error)
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP layer to the hub service.
type Dependencies struct {
	Tokens  DeviceTokenIssuer
	Service *Service
	Logger  *zap.Logger
}

// NewHTTPHandler builds the hub's gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Tokens == nil {
		return nil, errMissingTokenIssuer
	}
	if deps.Service == nil {
		return nil, errMissingHubService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:  deps.Tokens,
		service: deps.Service,
		logger:  logger,
	}

	router.POST("/auth/device", handler.handleDeviceAuth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/farms", handler.handleCreateFarm)
	protected.GET("/farms/:farmID", handler.handleGetFarm)
	protected.DELETE("/farms/:farmID", handler.handleDeleteFarm)
	protected.PUT("/farms/:farmID/members", handler.handleUpsertMember)
	protected.GET("/farms/:farmID/members", handler.handleListMembers)
	protected.PUT("/farms/:farmID/members/:deviceID/name", handler.handleUpdateMemberName)
	protected.DELETE("/members/:memberID", handler.handleDeleteMember)
	protected.POST("/farms/:farmID/data", handler.handleUpsertRows)
	protected.GET("/farms/:farmID/data", handler.handleSelectRows)
	protected.DELETE("/farms/:farmID/data/:recordID", handler.handleDeleteRow)
	protected.DELETE("/farms/:farmID/data-types/:dataType", handler.handleDeleteRowsByType)

	return router, nil
}

type httpHandler struct {
	tokens  DeviceTokenIssuer
	service *Service
	logger  *zap.Logger
}

type deviceAuthRequest struct {
	DeviceID string `json:"device_id"`
}

type deviceAuthResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

func (h *httpHandler) handleDeviceAuth(c *gin.Context) {
	var request deviceAuthRequest
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.DeviceID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	token, expiresIn, err := h.tokens.IssueDeviceToken(c.Request.Context(), strings.TrimSpace(request.DeviceID))
	if err != nil {
		h.logger.Error("failed to issue device token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token_issue_failed"})
		return
	}

	c.JSON(http.StatusOK, deviceAuthResponse{
		AccessToken: token,
		ExpiresIn:   expiresIn,
		TokenType:   "Bearer",
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	deviceID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(deviceIDContextKey, deviceID)
	c.Next()
}

func (h *httpHandler) handleCreateFarm(c *gin.Context) {
	var request remote.Farm
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.ID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	err := h.service.CreateFarm(c.Request.Context(), request.ID, request.Name, request.Password)
	if errors.Is(err, ErrFarmExists) {
		c.JSON(http.StatusConflict, gin.H{"error": "farm_exists"})
		return
	}
	if err != nil {
		h.logger.Error("failed to create farm", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create_failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": request.ID})
}

func (h *httpHandler) handleGetFarm(c *gin.Context) {
	farm, err := h.service.GetFarm(c.Request.Context(), c.Param("farmID"))
	if errors.Is(err, ErrFarmNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "farm_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to load farm", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
		return
	}
	c.JSON(http.StatusOK, remote.Farm{ID: farm.ID, Name: farm.Name, Password: farm.Password})
}

func (h *httpHandler) handleDeleteFarm(c *gin.Context) {
	if err := h.service.DeleteFarm(c.Request.Context(), c.Param("farmID")); err != nil {
		h.logger.Error("failed to delete farm", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func memberPayload(member MemberRow) remote.Member {
	return remote.Member{
		MemberID: member.MemberID,
		FarmID:   member.FarmID,
		DeviceID: member.DeviceID,
		UserName: member.UserName,
		IsAdmin:  member.IsAdmin,
		JoinedAt: member.JoinedAt,
	}
}

func (h *httpHandler) handleUpsertMember(c *gin.Context) {
	var request remote.Member
	if err := c.ShouldBindJSON(&request); err != nil || strings.TrimSpace(request.DeviceID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	member, err := h.service.UpsertMember(c.Request.Context(), c.Param("farmID"), request.DeviceID, request.UserName, request.IsAdmin)
	if errors.Is(err, ErrFarmNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "farm_not_found"})
		return
	}
	if err != nil {
		h.logger.Error("failed to upsert member", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "member_upsert_failed"})
		return
	}
	c.JSON(http.StatusOK, memberPayload(member))
}

func (h *httpHandler) handleListMembers(c *gin.Context) {
	members, err := h.service.ListMembers(c.Request.Context(), c.Param("farmID"))
	if err != nil {
		h.logger.Error("failed to list members", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "member_list_failed"})
		return
	}
	payload := make([]remote.Member, 0, len(members))
	for _, member := range members {
		payload = append(payload, memberPayload(member))
	}
	c.JSON(http.StatusOK, gin.H{"members": payload})
}

type memberNameRequest struct {
	UserName string `json:"user_name"`
}

func (h *httpHandler) handleUpdateMemberName(c *gin.Context) {
	var request memberNameRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}
	err := h.service.UpdateMemberName(c.Request.Context(), c.Param("farmID"), c.Param("deviceID"), request.UserName)
	if err != nil {
		h.logger.Error("failed to update member name", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "member_update_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

func (h *httpHandler) handleDeleteMember(c *gin.Context) {
	if err := h.service.DeleteMember(c.Request.Context(), c.Param("memberID")); err != nil {
		h.logger.Error("failed to delete member", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "member_delete_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

type rowsRequest struct {
	Rows []model.Row `json:"rows"`
}

func (h *httpHandler) handleUpsertRows(c *gin.Context) {
	var request rowsRequest
	if err := c.ShouldBindJSON(&request); err != nil || len(request.Rows) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	farmID := c.Param("farmID")
	for i := range request.Rows {
		request.Rows[i].FarmID = farmID
	}

	if err := h.service.UpsertRows(c.Request.Context(), request.Rows); err != nil {
		if errors.Is(err, model.ErrUnknownDataType) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_data_type"})
			return
		}
		h.logger.Error("failed to upsert rows", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upsert_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"upserted": len(request.Rows)})
}

func (h *httpHandler) handleSelectRows(c *gin.Context) {
	rows, err := h.service.RowsForFarm(c.Request.Context(), c.Param("farmID"))
	if err != nil {
		h.logger.Error("failed to load rows", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "select_failed"})
		return
	}
	c.JSON(http.StatusOK, rowsRequest{Rows: rows})
}

func (h *httpHandler) handleDeleteRow(c *gin.Context) {
	err := h.service.DeleteRow(c.Request.Context(), c.Param("recordID"), c.Param("farmID"))
	if err != nil {
		h.logger.Error("failed to delete row", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (h *httpHandler) handleDeleteRowsByType(c *gin.Context) {
	dataType, err := model.ParseDataType(c.Param("dataType"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_data_type"})
		return
	}
	if err := h.service.DeleteRowsByType(c.Request.Context(), c.Param("farmID"), dataType); err != nil {
		h.logger.Error("failed to delete rows by type", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
