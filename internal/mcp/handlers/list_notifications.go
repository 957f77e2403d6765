package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// ListNotifications returns a handler that lists a user's unread notifications.
func ListNotifications(dir Directory) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()

		userID, err := userIDArg(args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		limit := 20
		if v, ok := args["limit"].(float64); ok && v > 0 {
			limit = int(v)
		}

		u, err := lookupUser(dir, userID)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		rows, err := dir.ListUnreadNotifications(userID, limit)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("listing notifications: %v", err)), nil
		}
		if len(rows) == 0 {
			return mcp.NewToolResultText(fmt.Sprintf("%s has no unread notifications.", u.Name)), nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "🔔 Unread notifications for %s (%d)\n\n", u.Name, len(rows))
		for _, n := range rows {
			fmt.Fprintf(&sb, "- #%d %s: %s", n.ID, n.CreatedAt.UTC().Format("2006-01-02 15:04"), n.Content)
			if n.Link != "" {
				fmt.Fprintf(&sb, " (%s)", n.Link)
			}
			sb.WriteString("\n")
		}

		return mcp.NewToolResultText(sb.String()), nil
	}
}
