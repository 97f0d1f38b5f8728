// Package mcpserver exposes one tenant conversation as MCP tools so another
// agent can talk to a tenant's assistant over stdio.
package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/comigor/tenant-chat/internal/attachment"
	"github.com/comigor/tenant-chat/internal/chat"
	"github.com/comigor/tenant-chat/internal/chatlog"
	"github.com/comigor/tenant-chat/internal/logger"
)

const (
	ToolSendMessage = "send_message"
	ToolAttachFile  = "attach_file"
	ToolTranscript  = "transcript"
)

// Conversation is the slice of the orchestrator the bridge drives.
type Conversation interface {
	Submit(ctx context.Context, text string) (bool, error)
	AttachFile(ctx context.Context, draft string, f attachment.File) (string, error)
	Snapshot() []chatlog.Message
	TotalTokens() int
}

// Bridge holds the pending attachment lines between tool calls.
type Bridge struct {
	conv     Conversation
	readFile func(string) ([]byte, error)

	// mu is held for a whole send or attach so a pending attachment is
	// consumed by exactly one message.
	mu      sync.Mutex
	pending string
}

// NewBridge creates a Bridge over an already bootstrapped conversation.
func NewBridge(conv Conversation) *Bridge {
	return &Bridge{conv: conv, readFile: os.ReadFile}
}

// NewServer registers the conversation tools on a fresh MCP server.
func NewServer(name, version string, b *Bridge) *server.MCPServer {
	s := server.NewMCPServer(name, version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.AddTool(mcp.NewTool(ToolSendMessage,
		mcp.WithDescription("Send a message to the tenant's assistant and return its reply. Attached files are included in this message."),
		mcp.WithString("text", mcp.Required(), mcp.Description("Message text")),
	), b.handleSendMessage)

	s.AddTool(mcp.NewTool(ToolAttachFile,
		mcp.WithDescription("Upload an image as payment proof. Its link is added to the next message."),
		mcp.WithString("path", mcp.Required(), mcp.Description("Local path of the image")),
	), b.handleAttachFile)

	s.AddTool(mcp.NewTool(ToolTranscript,
		mcp.WithDescription("Return the conversation so far."),
	), b.handleTranscript)

	return s
}

// Serve runs the server on stdin/stdout until the client disconnects.
func Serve(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func (b *Bridge) handleSendMessage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	accepted, err := b.conv.Submit(ctx, attachment.Join(text, b.pending))
	if !accepted {
		return mcp.NewToolResultError("message not sent: empty, or another operation is in flight"), nil
	}
	b.pending = ""

	reply := lastAgentMessage(b.conv.Snapshot())
	var failure *chat.TerminalFailure
	if errors.As(err, &failure) {
		logger.L.Warn("mcp send failed", "attempts", failure.Attempts, "error", err)
		return mcp.NewToolResultError(reply), nil
	}
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(reply), nil
}

func (b *Bridge) handleAttachFile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := req.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	data, err := b.readFile(path)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("read %s: %v", path, err)), nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	next, err := b.conv.AttachFile(ctx, b.pending, attachment.File{Name: filepath.Base(path), Data: data})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("upload failed: %v", err)), nil
	}
	b.pending = next

	return mcp.NewToolResultText("Attached. It will be sent with the next message:\n" + next), nil
}

func (b *Bridge) handleTranscript(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(chatlog.Render(b.conv.Snapshot(), b.conv.TotalTokens())), nil
}

func lastAgentMessage(msgs []chatlog.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Sender == chatlog.SenderAgent {
			return msgs[i].Content
		}
	}
	return ""
}
