package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/btouchard/pulse/internal/notify"
)

// Broadcast returns a handler that pushes an announcement to every connected
// user. Nothing is stored.
func Broadcast(n Notifier, presence Presence) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		content, _ := args["content"].(string)
		content = strings.TrimSpace(content)
		if content == "" {
			return mcp.NewToolResultError("content is required"), nil
		}
		link, _ := args["link"].(string)

		users, conns := presence.Len()
		n.Notify(ctx, notify.Event{
			Type:    notify.TypeNotification,
			Content: content,
			Link:    link,
		})

		if users == 0 {
			return mcp.NewToolResultText("📣 Broadcast sent, but nobody is connected."), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("📣 Broadcast sent to %d users (%d connections).", users, conns)), nil
	}
}
