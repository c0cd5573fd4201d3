package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"github.com/halyardai/halyard/internal/agent"
	"github.com/halyardai/halyard/internal/llm"
)

// repl runs the interactive conversation. Slash commands manage the
// session; everything else goes to the agent.
func (a *app) repl(ctx context.Context, stdout io.Writer) error {
	fmt.Fprintf(stdout, "%s ready. /help for commands.\n", a.cfg.Agent.Name)

	rc := agent.NewRunContext(a.cfg.Agent.Name, a.cfg.Agent.MaxCallDepth)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(stdout, "> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "/") {
			quit, err := a.replCommand(ctx, stdout, line)
			if err != nil {
				fmt.Fprintf(stdout, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		answer, err := a.loop.Run(ctx, rc, line)
		if err != nil {
			fmt.Fprintf(stdout, "error: %v\n", err)
			continue
		}
		if answer == "" {
			fmt.Fprintln(stdout, "(no answer; see logs)")
			continue
		}
		fmt.Fprintln(stdout, renderMarkdown(answer))
	}
}

func (a *app) replCommand(ctx context.Context, stdout io.Writer, line string) (quit bool, err error) {
	cmd, _, _ := strings.Cut(line, " ")
	switch cmd {
	case "/quit", "/exit":
		return true, nil
	case "/help":
		fmt.Fprint(stdout, `/clear    Reset the conversation and start a new session
/history  List this session's stored messages
/story    Replay the session transcript
/usage    Show token usage totals
/quit     Exit
`)
		return false, nil
	case "/clear":
		a.pctx.NewSession(ctx, "interactive conversation")
		fmt.Fprintln(stdout, "context cleared")
		return false, nil
	case "/usage":
		t := a.stat.Snapshot()
		fmt.Fprintf(stdout, "requests=%d messages=%d input=%d output=%d total=%d tokens\n",
			t.Requests, t.Messages, t.InputTokens, t.OutputTokens, t.TotalTokens)
		return false, nil
	case "/history":
		return false, a.printHistory(ctx, stdout, false)
	case "/story":
		return false, a.printHistory(ctx, stdout, true)
	default:
		return false, fmt.Errorf("unknown command %s", cmd)
	}
}

// printHistory lists the session's stored messages. story mode replays
// contents oldest-first; plain mode lists IDs and sizes.
func (a *app) printHistory(ctx context.Context, stdout io.Writer, story bool) error {
	sessionID := a.pctx.SessionID()
	if sessionID == "" {
		fmt.Fprintln(stdout, "no active session")
		return nil
	}
	recs, err := a.store.GetMessagesBySession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !story {
		for _, rec := range recs {
			fmt.Fprintf(stdout, "%s  %6d bytes  accessed %d times\n",
				rec.MsgID, rec.MsgSize, rec.AccessCount)
		}
		return nil
	}

	// Records come newest-first; a story reads the other way.
	for i := len(recs) - 1; i >= 0; i-- {
		var msg llm.Message
		if err := json.Unmarshal([]byte(recs[i].Content), &msg); err != nil {
			continue
		}
		fmt.Fprintf(stdout, "[%s] %s\n", msg.Role, msg.Content)
	}
	return nil
}

// renderMarkdown pretty-prints model output on a terminal and passes
// it through unchanged everywhere else.
func renderMarkdown(md string) string {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return md
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}
