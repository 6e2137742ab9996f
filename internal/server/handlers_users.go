package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/murmur/backend/internal/graph"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/notifications"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/posts"
	"github.com/MarcoPoloResearchLab/murmur/backend/internal/users"
	"github.com/gin-gonic/gin"
)

const suggestionSize = 5

// profilePayload is a user together with both sides of their follow graph and their posts.
type profilePayload struct {
	users.User
	Followers  []users.User `json:"followers"`
	Followings []users.User `json:"followings"`
	Posts      []posts.Post `json:"posts"`
}

type updateProfileRequestPayload struct {
	Name                 *string `json:"name"`
	Username             *string `json:"username"`
	Bio                  *string `json:"bio"`
	ProfilePicture       string  `json:"profilePicture"`
	DeleteProfilePicture bool    `json:"deleteProfilePicture"`
}

type updatePasswordRequestPayload struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

func (h *httpHandler) handleMyProfile(c *gin.Context) {
	h.respondProfile(c, currentUserID(c))
}

func (h *httpHandler) handleFindUser(c *gin.Context) {
	user, err := h.users.Find(c.Request.Context(), c.Param("idOrUsername"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondProfile(c, user.ID)
}

func (h *httpHandler) respondProfile(c *gin.Context, userID string) {
	ctx := c.Request.Context()
	user, err := h.users.FindByID(ctx, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	followers, err := h.users.Followers(ctx, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	followings, err := h.users.Followings(ctx, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	owned, err := h.posts.ListByOwner(ctx, userID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"user": profilePayload{
			User:       user,
			Followers:  nonNilUsers(followers),
			Followings: nonNilUsers(followings),
			Posts:      nonNilPosts(owned),
		},
	})
}

func (h *httpHandler) handleSearchUsers(c *gin.Context) {
	found, err := h.users.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "users": nonNilUsers(found)})
}

func (h *httpHandler) handleSuggestUsers(c *gin.Context) {
	suggested, err := h.users.Suggest(c.Request.Context(), currentUserID(c), suggestionSize)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "users": nonNilUsers(suggested)})
}

func (h *httpHandler) handleUpdateProfile(c *gin.Context) {
	var request updateProfileRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidBody(c, err)
		return
	}
	user, err := h.users.UpdateProfile(c.Request.Context(), currentUserID(c), users.ProfileUpdate{
		Name:                 request.Name,
		Username:             request.Username,
		Bio:                  request.Bio,
		ProfilePicture:       request.ProfilePicture,
		DeleteProfilePicture: request.DeleteProfilePicture,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Profile updated", "user": user})
}

func (h *httpHandler) handleUpdatePassword(c *gin.Context) {
	var request updatePasswordRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		h.respondInvalidBody(c, err)
		return
	}
	if err := h.users.UpdatePassword(c.Request.Context(), currentUserID(c), request.OldPassword, request.NewPassword); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Password updated"})
}

func (h *httpHandler) handleDeleteMe(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), currentUserID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	h.clearSessionCookie(c)
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Profile deleted"})
}

func (h *httpHandler) handleToggleFollow(c *gin.Context) {
	change, err := h.graph.ToggleFollow(c.Request.Context(), currentUserID(c), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	h.respondFollow(c, change)
}

func (h *httpHandler) handleSetFollow(want bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		change, err := h.graph.SetFollow(c.Request.Context(), currentUserID(c), c.Param("id"), want)
		if err != nil {
			h.respondError(c, err)
			return
		}
		h.respondFollow(c, change)
	}
}

func (h *httpHandler) respondFollow(c *gin.Context, change graph.Change) {
	message := "User unfollowed"
	if change.Active {
		message = "User followed"
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"following": change.Active,
		"changed":   change.Changed,
		"message":   message,
	})
}

func (h *httpHandler) handleListNotifications(c *gin.Context) {
	listed, err := h.notifications.List(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	if listed == nil {
		listed = []notifications.Notification{}
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "notifications": listed})
}

func (h *httpHandler) handleMarkNotificationsRead(c *gin.Context) {
	updated, err := h.notifications.MarkAllRead(c.Request.Context(), currentUserID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "updated": updated})
}

func nonNilUsers(list []users.User) []users.User {
	if list == nil {
		return []users.User{}
	}
	return list
}

func nonNilPosts(list []posts.Post) []posts.Post {
	if list == nil {
		return []posts.Post{}
	}
	return list
}
