package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/graph"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/posts"
	"github.com/gin-gonic/gin"
)

type createPostRequestPayload struct {
	Image   string `json:"image"`
	Caption string `json:"caption"`
}

type updatePostRequestPayload struct {
	Caption string `json:"caption"`
}

type addCommentRequestPayload struct {
	Comment string `json:"comment"`
}

type deleteCommentRequestPayload struct {
	CommentID string `json:"commentId"`
}

type listingResponsePayload struct {
	Success bool `json:"success"`
	posts.Listing
}

type feedResponsePayload struct {
	Success bool `json:"success"`
	posts.Feed
}

func (h *httpHandler) handleListPosts(c *gin.Context) {
	mode, err := posts.ParseListMode(c.Query("mode"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	page, err := posts.ParsePage(c.Query("page"), c.Query("limit"), posts.DefaultPageLimit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	listing, err := h.posts.List(c.Request.Context(), mode, page)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listingResponsePayload{Success: true, Listing: listing})
}

func (h *httpHandler) handleFeed(c *gin.Context) {
	page, err := posts.ParsePage(c.Query("page"), c.Query("limit"), posts.DefaultFeedLimit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	feed, err := h.posts.Feed(c.Request.Context(), currentUserID(c), page)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if feed.Posts == nil {
		feed.Posts = []posts.Post{}
	}
	c.JSON(http.StatusOK, feedResponsePayload{Success: true, Feed: feed})
}

func (h *httpHandler) handleCreatePost(c *gin.Context) {
	var request createPostRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidBody(c, err)
		return
	}
	post, err := h.posts.Create(c.Request.Context(), currentUserID(c), posts.CreateRequest{
		Image:   request.Image,
		Caption: request.Caption,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Post created", "post": post})
}

func (h *httpHandler) handleGetPost(c *gin.Context) {
	post, err := h.posts.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "post": post})
}

func (h *httpHandler) handleUpdatePost(c *gin.Context) {
	var request updatePostRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidBody(c, err)
		return
	}
	post, err := h.posts.UpdateCaption(c.Request.Context(), currentUserID(c), c.Param("id"), request.Caption)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Post updated", "post": post})
}

func (h *httpHandler) handleDeletePost(c *gin.Context) {
	if err := h.posts.Delete(c.Request.Context(), currentUserID(c), c.Param("id")); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Post deleted"})
}

func (h *httpHandler) handleToggleLike(c *gin.Context) {
	change, err := h.graph.ToggleLike(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondLike(c, change)
}

func (h *httpHandler) handleSetLike(want bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		change, err := h.graph.SetLike(c.Request.Context(), currentUserID(c), c.Param("id"), want)
		if err != nil {
			h.respondError(c, err)
			return
		}
		h.respondLike(c, change)
	}
}

func (h *httpHandler) respondLike(c *gin.Context, change graph.Change) {
	message := "Post unliked"
	if change.Active {
		message = "Post liked"
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"liked":   change.Active,
		"changed": change.Changed,
		"message": message,
	})
}

func (h *httpHandler) handleAddComment(c *gin.Context) {
	var request addCommentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidBody(c, err)
		return
	}
	comment, err := h.posts.AddComment(c.Request.Context(), currentUserID(c), c.Param("id"), request.Comment)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "message": "Comment added", "comment": comment})
}

func (h *httpHandler) handleDeleteComment(c *gin.Context) {
	var request deleteCommentRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidBody(c, err)
		return
	}
	if err := h.posts.DeleteComment(c.Request.Context(), currentUserID(c), c.Param("id"), request.CommentID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Comment deleted"})
}
