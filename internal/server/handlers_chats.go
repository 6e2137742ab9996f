package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/chats"
	"github.com/gin-gonic/gin"
)

type accessChatRequestPayload struct {
	UserID string `json:"userId"`
}

type sendMessageRequestPayload struct {
	ChatID  string `json:"chatId"`
	Content string `json:"content"`
}

func (h *httpHandler) handleAccessChat(c *gin.Context) {
	var request accessChatRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidBody(c, err)
		return
	}
	chat, created, err := h.chats.Access(c.Request.Context(), currentUserID(c), request.UserID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"success": true, "chat": chat})
}

func (h *httpHandler) handleListChats(c *gin.Context) {
	listed, err := h.chats.List(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if listed == nil {
		listed = []chats.Chat{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "chats": listed})
}

func (h *httpHandler) handleListMessages(c *gin.Context) {
	messages, err := h.chats.ListMessages(c.Request.Context(), currentUserID(c), c.Param("chatId"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if messages == nil {
		messages = []chats.Message{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "messages": messages})
}

func (h *httpHandler) handleSendMessage(c *gin.Context) {
	var request sendMessageRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidBody(c, err)
		return
	}
	message, err := h.chats.SendMessage(c.Request.Context(), currentUserID(c), request.ChatID, request.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": message})
}
