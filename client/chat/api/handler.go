package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"msg_client/client/chat/domain"
	"msg_client/client/chat/service"
	commonauth "msg_client/client/common/auth"
	"msg_client/client/common/infra/rest"
	"msg_client/client/common/middleware"
	"msg_client/client/common/transport/httpresp"
)

const maxUploadBytes = 25 << 20

// Handler exposes a connection manager to a local UI over HTTP.
type Handler struct {
	manager *service.Manager
	metrics *service.Metrics
}

func NewHandler(manager *service.Manager, metrics *service.Metrics) *Handler {
	return &Handler{manager: manager, metrics: metrics}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, NewHealthResponse("ok", h.manager.ConnectionState()))
	})
	if h.metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.metrics.Registry, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api/v1")
	{
		api.POST("/connect", middleware.AuthRequired(commonauth.UnverifiedParser{}), h.connect)
		api.POST("/reconnect", h.reconnect)
		api.POST("/disconnect", h.disconnect)
		api.GET("/state", h.state)
		api.GET("/events", h.events)

		api.GET("/channels", h.listChannels)
		api.POST("/channels", h.createChannel)
		api.GET("/channels/:id/messages", h.fetchMessages)
		api.POST("/channels/:id/messages", h.sendMessage)
		api.POST("/channels/:id/join", h.joinChannel)
		api.POST("/channels/:id/leave", h.leaveChannel)
		api.POST("/channels/:id/typing", h.setTyping)
		api.POST("/channels/:id/read", h.markRead)
		api.DELETE("/messages/:id", h.deleteMessage)
		api.POST("/attachments", h.uploadAttachment)
	}
}

func (h *Handler) connect(c *gin.Context) {
	if err := h.manager.Connect(c.GetString(middleware.CtxAccessToken)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, h.stateResponse())
}

// reconnect resumes with the last credential after a manual disconnect.
func (h *Handler) reconnect(c *gin.Context) {
	if err := h.manager.Connect(""); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, h.stateResponse())
}

func (h *Handler) disconnect(c *gin.Context) {
	h.manager.Disconnect()
	c.JSON(http.StatusOK, h.stateResponse())
}

func (h *Handler) state(c *gin.Context) {
	c.JSON(http.StatusOK, h.stateResponse())
}

func (h *Handler) stateResponse() StateResponse {
	snap := h.manager.Snapshot()
	return StateResponse{
		State:   h.manager.ConnectionState().String(),
		Subject: commonauth.SubjectFromToken(h.manager.Credential()),
		Stats:   h.manager.Stats(),
		Online:  snap.Presence(),
	}
}

func (h *Handler) listChannels(c *gin.Context) {
	items, err := h.manager.ListChannels(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewItemsResponse(items))
}

func (h *Handler) createChannel(c *gin.Context) {
	var req CreateChannelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	ch, err := h.manager.CreateChannel(c.Request.Context(), domain.CreateChannelInput{
		Name:      req.Name,
		Type:      domain.ChannelType(strings.ToLower(strings.TrimSpace(req.Type))),
		MemberIDs: req.MemberIDs,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ch)
}

func (h *Handler) fetchMessages(c *gin.Context) {
	limit := 50
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, NewErrorResponse("limit must be a positive integer"))
			return
		}
		limit = n
	}
	items, err := h.manager.FetchMessages(c.Request.Context(), c.Param("id"), domain.PageQuery{
		Before: c.Query("before"),
		Limit:  limit,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpresp.NewItemsResponse(items))
}

func (h *Handler) sendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	msg, err := h.manager.SendMessage(c.Param("id"), req.Body, req.Attachments)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, msg)
}

func (h *Handler) joinChannel(c *gin.Context) {
	h.ack(c, h.manager.JoinChannel(c.Param("id")))
}

func (h *Handler) leaveChannel(c *gin.Context) {
	h.ack(c, h.manager.LeaveChannel(c.Param("id")))
}

func (h *Handler) setTyping(c *gin.Context) {
	var req TypingRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	isTyping := true
	if req.IsTyping != nil {
		isTyping = *req.IsTyping
	}
	h.ack(c, h.manager.SetTyping(c.Param("id"), isTyping))
}

func (h *Handler) markRead(c *gin.Context) {
	var req MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	h.ack(c, h.manager.MarkRead(c.Param("id"), req.MessageID))
}

func (h *Handler) deleteMessage(c *gin.Context) {
	h.ack(c, h.manager.DeleteMessage(c.Request.Context(), c.Param("id")))
}

func (h *Handler) uploadAttachment(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse("file is required"))
		return
	}
	if file.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, NewErrorResponse("file is too large"))
		return
	}
	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
		return
	}
	att, err := h.manager.UploadAttachment(c.Request.Context(), domain.Upload{
		FileName:    file.Filename,
		ContentType: file.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, att)
}

func (h *Handler) ack(c *gin.Context, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, NewOKResponse())
}

func writeError(c *gin.Context, err error) {
	var statusErr *rest.StatusError
	switch {
	case errors.Is(err, domain.ErrValidation):
		c.JSON(http.StatusBadRequest, NewErrorResponse(err.Error()))
	case errors.Is(err, service.ErrDestroyed):
		c.JSON(http.StatusGone, NewErrorResponse(httpresp.ErrDestroyed))
	case errors.Is(err, service.ErrNoBackend), errors.Is(err, service.ErrNoUploader):
		c.JSON(http.StatusNotImplemented, NewErrorResponse(err.Error()))
	case errors.As(err, &statusErr) && statusErr.Status < 500:
		c.JSON(statusErr.Status, NewErrorResponse(err.Error()))
	case errors.As(err, &statusErr):
		c.JSON(http.StatusBadGateway, NewErrorResponse(err.Error()))
	default:
		c.JSON(http.StatusInternalServerError, NewErrorResponse(err.Error()))
	}
}
