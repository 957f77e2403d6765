package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/pulse/internal/notify"
)

// NotifyUser returns a handler that stores a notification for one user and
// pushes it to their open connections.
func NotifyUser(n Notifier, presence Presence, dir Directory) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		userID, err := userIDArg(args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		content, _ := args["content"].(string)
		content = strings.TrimSpace(content)
		if content == "" {
			return mcp.NewToolResultError("content is required"), nil
		}
		link, _ := args["link"].(string)

		u, err := lookupUser(dir, userID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		ev := n.Notify(ctx, notify.Event{
			Type:    notify.TypeNotification,
			UserID:  userID,
			Content: content,
			Link:    link,
		})

		status := "user offline, stored for later"
		if presence.IsOnline(userID) {
			status = "delivered live"
		}
		return mcp.NewToolResultText(fmt.Sprintf("✅ Notification #%d sent to %s (#%d): %s", ev.ID, u.Name, userID, status)), nil
	}
}
