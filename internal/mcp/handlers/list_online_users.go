package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ListOnlineUsers returns a handler that lists users with an open realtime
// connection.
func ListOnlineUsers(presence Presence, dir Directory) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ids := presence.OnlineUsers()
		if len(ids) == 0 {
			return mcp.NewToolResultText("No users are connected right now."), nil
		}

		_, conns := presence.Len()

		var sb strings.Builder
		fmt.Fprintf(&sb, "🟢 Online users (%d users, %d connections)\n\n", len(ids), conns)
		for _, id := range ids {
			u, err := dir.GetUser(id)
			if err != nil {
				fmt.Fprintf(&sb, "- #%d\n", id)
				continue
			}
			fmt.Fprintf(&sb, "- #%d **%s** (%s)\n", id, u.Name, u.Email)
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}
