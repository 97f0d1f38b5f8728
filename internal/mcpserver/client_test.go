package mcpserver

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/comigor/tenant-chat/internal/chatlog"
)

func TestServer_InProcessClient(t *testing.T) {
	conv := &mockConversation{}
	conv.SubmitFunc = func(ctx context.Context, text string) (bool, error) {
		conv.log = append(conv.log,
			chatlog.Message{Sender: chatlog.SenderUser, Content: text},
			chatlog.Message{Sender: chatlog.SenderAgent, Content: "Table for two at 8pm, booked."},
		)
		return true, nil
	}

	mcpC, err := client.NewInProcessClient(NewServer("tenantchat-test", "test", NewBridge(conv)))
	require.NoError(t, err)
	t.Cleanup(func() { mcpC.Close() })

	ctx := context.Background()
	require.NoError(t, mcpC.Start(ctx))

	initReq := mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo:      mcp.Implementation{Name: "test-client", Version: "test"},
			Capabilities:    mcp.ClientCapabilities{},
		},
	}
	initResult, err := mcpC.Initialize(ctx, initReq)
	require.NoError(t, err)
	require.Equal(t, "tenantchat-test", initResult.ServerInfo.Name)

	tools, err := mcpC.ListTools(ctx, mcp.ListToolsRequest{})
	require.NoError(t, err)
	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	require.ElementsMatch(t, []string{ToolSendMessage, ToolAttachFile, ToolTranscript}, names)

	result, err := mcpC.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      ToolSendMessage,
			Arguments: map[string]any{"text": "table for two at 8?"},
		},
	})
	require.NoError(t, err)
	require.False(t, result.IsError)
	require.Equal(t, "Table for two at 8pm, booked.", text(t, result))
	require.Equal(t, []string{"table for two at 8?"}, conv.submitted)
}
