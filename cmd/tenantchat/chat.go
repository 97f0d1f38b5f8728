package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/comigor/tenant-chat/internal/attachment"
	"github.com/comigor/tenant-chat/internal/chat"
	"github.com/comigor/tenant-chat/internal/chatlog"
	"github.com/comigor/tenant-chat/internal/logger"
	"github.com/comigor/tenant-chat/internal/session"
)

const helpText = `Commands:
  /attach <path>  upload an image as payment proof; it is sent with your next message
  /transcript     show the conversation so far with token counts
  /quit           leave the conversation`

var chatCmd = &cobra.Command{
	Use:   "chat [tenant-slug]",
	Short: "Start a conversation with a tenant's assistant",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		slug, err := tenantArg(args)
		if err != nil {
			return err
		}

		orch, closeConv := newConversation(cfg)
		defer closeConv()

		in := bufio.NewReader(cmd.InOrStdin())
		s, err := bootstrapWithRetry(cmd.Context(), orch, slug, in, cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		printBanner(out, s)

		r := newREPL(orch, in, out, s.Tenant.DisplayName)
		return r.run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

type bootstrapper interface {
	Bootstrap(ctx context.Context, slug string) (session.Session, error)
}

// bootstrapWithRetry creates the session, asking whether to try again after
// each failure. A declined retry returns the last error as a reportedError.
func bootstrapWithRetry(ctx context.Context, b bootstrapper, slug string, in *bufio.Reader, w io.Writer) (session.Session, error) {
	for {
		s, err := b.Bootstrap(ctx, slug)
		if err == nil {
			return s, nil
		}
		fmt.Fprintf(w, "Could not start a conversation with %q: %v\n", slug, err)
		fmt.Fprint(w, "Try again? [y/N] ")

		answer, _ := in.ReadString('\n')
		switch strings.ToLower(strings.TrimSpace(answer)) {
		case "y", "yes":
			continue
		}
		fmt.Fprintln(w)
		return session.Session{}, reportedError{err}
	}
}

func printBanner(w io.Writer, s session.Session) {
	fmt.Fprintf(w, "Connected to %s (session %s)\n\n", s.Tenant.DisplayName, s.ShortID())
	if s.Tenant.Description != "" {
		fmt.Fprintf(w, "%s\n\n", s.Tenant.Description)
	}
	fmt.Fprintln(w, "I can help you with:\n  - Browse our menu\n  - Place orders\n  - Check order status\n  - Answer questions about our food")
	fmt.Fprintln(w, "\nWhat would you like to do today? Type /help for commands.")
}

type conversation interface {
	Submit(ctx context.Context, text string) (bool, error)
	AttachFile(ctx context.Context, draft string, f attachment.File) (string, error)
	Snapshot() []chatlog.Message
	TotalTokens() int
}

type repl struct {
	conv      conversation
	in        io.Reader
	out       io.Writer
	agentName string
	readFile  func(string) ([]byte, error)
	// sendContext scopes one send so Ctrl-C cancels it instead of the process.
	sendContext func(context.Context) (context.Context, context.CancelFunc)

	pending string
	shown   int
}

func newREPL(conv conversation, in io.Reader, out io.Writer, agentName string) *repl {
	return &repl{
		conv:      conv,
		in:        in,
		out:       out,
		agentName: agentName,
		readFile:  os.ReadFile,
		sendContext: func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt)
		},
	}
}

func (r *repl) run(ctx context.Context) error {
	sc := bufio.NewScanner(r.in)
	r.prompt()
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/help":
			fmt.Fprintln(r.out, helpText)
		case line == "/transcript":
			fmt.Fprintln(r.out, chatlog.Render(r.conv.Snapshot(), r.conv.TotalTokens()))
		case line == "/attach" || strings.HasPrefix(line, "/attach "):
			r.attach(ctx, strings.TrimSpace(strings.TrimPrefix(line, "/attach")))
		default:
			r.send(ctx, line)
		}
		if ctx.Err() != nil {
			return nil
		}
		r.prompt()
	}
	return sc.Err()
}

func (r *repl) prompt() {
	if r.pending != "" {
		fmt.Fprint(r.out, "(attachment pending) > ")
		return
	}
	fmt.Fprint(r.out, "> ")
}

func (r *repl) send(ctx context.Context, line string) {
	message := attachment.Join(line, r.pending)
	if message == "" {
		return
	}

	sendCtx, cancel := r.sendContext(ctx)
	accepted, err := r.conv.Submit(sendCtx, message)
	cancel()

	if !accepted {
		fmt.Fprintln(r.out, "Message not sent.")
		return
	}
	r.pending = ""
	r.flush()

	var failure *chat.TerminalFailure
	if err != nil && !errors.As(err, &failure) {
		fmt.Fprintf(r.out, "error: %v\n", err)
	}
}

func (r *repl) attach(ctx context.Context, path string) {
	if path == "" {
		fmt.Fprintln(r.out, "usage: /attach <path>")
		return
	}

	data, err := r.readFile(path)
	if err != nil {
		fmt.Fprintf(r.out, "Cannot read %s: %v\n", path, err)
		return
	}

	fmt.Fprintf(r.out, "Uploading %s...\n", filepath.Base(path))
	draft, err := r.conv.AttachFile(ctx, r.pending, attachment.File{Name: filepath.Base(path), Data: data})
	if err != nil {
		logger.L.Debug("attach failed", "path", path, "error", err)
		r.flush()
		return
	}
	r.pending = draft
	fmt.Fprintln(r.out, "Attached. It will be sent with your next message.")
}

// flush prints agent messages appended since the last call.
func (r *repl) flush() {
	msgs := r.conv.Snapshot()
	for _, m := range msgs[min(r.shown, len(msgs)):] {
		if m.Sender != chatlog.SenderAgent {
			continue
		}
		fmt.Fprintf(r.out, "%s: %s", r.agentName, m.Content)
		if m.TokenCount != nil {
			fmt.Fprintf(r.out, " [%d tokens]", *m.TokenCount)
		}
		fmt.Fprintln(r.out)
	}
	r.shown = len(msgs)
}
