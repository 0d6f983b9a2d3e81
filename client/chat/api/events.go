package api

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"msg_client/client/common/log"
	"msg_client/client/common/transport/httpresp"
)

// events streams every observable as server-sent events until the client
// goes away or the manager is destroyed.
func (h *Handler) events(c *gin.Context) {
	status, cancelStatus := h.manager.SubscribeStatus()
	defer cancelStatus()
	messages, cancelMessages := h.manager.SubscribeMessages()
	defer cancelMessages()
	channels, cancelChannels := h.manager.SubscribeChannels()
	defer cancelChannels()
	members, cancelMembers := h.manager.SubscribeMembers()
	defer cancelMembers()
	presence, cancelPresence := h.manager.SubscribePresence()
	defer cancelPresence()
	typing, cancelTyping := h.manager.SubscribeTyping()
	defer cancelTyping()
	announcements, cancelAnnouncements := h.manager.SubscribeAnnouncements()
	defer cancelAnnouncements()

	if _, ok := c.Writer.(http.Flusher); !ok {
		c.JSON(http.StatusInternalServerError, NewErrorResponse(httpresp.ErrStreamUnsupported))
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	ctx := c.Request.Context()
	log.Infof("event=sse_subscribe remote=%s", c.ClientIP())
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case s, ok := <-status:
			if !ok {
				return false
			}
			c.SSEvent("status", s.String())
		case v, ok := <-messages:
			if !ok {
				return false
			}
			c.SSEvent("messages", v)
		case v, ok := <-channels:
			if !ok {
				return false
			}
			c.SSEvent("channels", v)
		case v, ok := <-members:
			if !ok {
				return false
			}
			c.SSEvent("members", v)
		case v, ok := <-presence:
			if !ok {
				return false
			}
			c.SSEvent("presence", v)
		case v, ok := <-typing:
			if !ok {
				return false
			}
			c.SSEvent("typing", v)
		case v, ok := <-announcements:
			if !ok {
				return false
			}
			c.SSEvent("announcement", v)
		}
		return true
	})
	log.Infof("event=sse_unsubscribe remote=%s", c.ClientIP())
}
