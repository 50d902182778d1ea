package handlers

import (
	"github.com/gin-gonic/gin"
)

// Handlers groups the HTTP handlers mounted behind authentication.
type Handlers struct {
	Chats         *ChatHandler
	Groups        *GroupHandler
	Messages      *MessageHandler
	Stories       *StoryHandler
	Users         *UserHandler
	Media         *MediaHandler
	Notifications *NotificationHandler
}

// RegisterRoutes mounts the authenticated API on router.
func RegisterRoutes(router gin.IRouter, auth gin.HandlerFunc, h Handlers) {
	api := router.Group("/", auth)

	api.PUT("/users/me", h.Users.UpsertProfile)
	api.POST("/users/me/push-tokens", h.Users.AddPushToken)
	api.DELETE("/users/me/push-tokens/:token", h.Users.RemovePushToken)

	api.POST("/chats/private", h.Chats.StartPrivate)
	api.GET("/chats", h.Chats.ListChats)
	api.GET("/chats/:chat_id", h.Chats.GetChat)
	api.GET("/chats/:chat_id/messages", h.Chats.History)

	api.POST("/groups", h.Groups.CreateGroup)
	api.PATCH("/groups/:chat_id", h.Groups.UpdateGroup)
	api.POST("/groups/:chat_id/members", h.Groups.AddMembers)
	api.DELETE("/groups/:chat_id/members/:user_id", h.Groups.RemoveMember)
	api.POST("/groups/:chat_id/leave", h.Groups.Leave)
	api.DELETE("/groups/:chat_id", h.Groups.DeleteGroup)

	api.POST("/messages", h.Messages.SendMany)
	api.POST("/messages/:message_id/view", h.Messages.MarkViewed)
	api.DELETE("/messages/:message_id", h.Messages.Delete)

	api.POST("/stories", h.Stories.Create)
	api.GET("/stories", h.Stories.ListActive)
	api.GET("/stories/me", h.Stories.ListMine)

	api.POST("/media/upload", h.Media.Upload)

	api.GET("/notifications", h.Notifications.List)
	api.DELETE("/notifications/:notification_id", h.Notifications.Delete)
}
