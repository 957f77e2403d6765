package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/pulse/internal/mcp/handlers"
)

func registerTools(s *server.MCPServer, deps *Deps) {
	s.AddTool(
		mcp.NewTool("list_online_users",
			mcp.WithDescription("List users that currently have at least one open realtime connection."),
		),
		handlers.ListOnlineUsers(deps.Presence, deps.Directory),
	)

	s.AddTool(
		mcp.NewTool("notify_user",
			mcp.WithDescription("Send a notification to one user. It is stored and pushed live to every open connection of that user."),
			mcp.WithNumber("user_id",
				mcp.Required(),
				mcp.Description("ID of the recipient"),
			),
			mcp.WithString("content",
				mcp.Required(),
				mcp.Description("Notification text"),
			),
			mcp.WithString("link",
				mcp.Description("Optional link opened when the notification is clicked"),
			),
		),
		handlers.NotifyUser(deps.Notifier, deps.Presence, deps.Directory),
	)

	s.AddTool(
		mcp.NewTool("broadcast",
			mcp.WithDescription("Push an announcement to every connected user. Broadcasts are not stored."),
			mcp.WithString("content",
				mcp.Required(),
				mcp.Description("Announcement text"),
			),
			mcp.WithString("link",
				mcp.Description("Optional link"),
			),
		),
		handlers.Broadcast(deps.Notifier, deps.Presence),
	)

	s.AddTool(
		mcp.NewTool("list_notifications",
			mcp.WithDescription("List the unread notifications of a user, newest first."),
			mcp.WithNumber("user_id",
				mcp.Required(),
				mcp.Description("ID of the user"),
			),
			mcp.WithNumber("limit",
				mcp.Description("Maximum number of notifications to return (default: 20)"),
			),
		),
		handlers.ListNotifications(deps.Directory),
	)
}
