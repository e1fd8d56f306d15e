package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/vango-go/vai-realtime/internal/agentconfig"
	"github.com/vango-go/vai-realtime/internal/catalog"
	"github.com/vango-go/vai-realtime/pkg/realtime"
	"github.com/vango-go/vai-realtime/pkg/realtime/history"
	"github.com/vango-go/vai-realtime/pkg/realtime/turn"
)

func buildChatCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the advisor over a live realtime session",
		Long: `Opens a realtime session through the credential broker and reads
messages from stdin. The product search tool is registered automatically.

Commands:
  /history    print the conversation so far
  /state      print the turn state
  /quit       close the session and exit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			profile, err := loadProfile(flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runChat(ctx, profile, newLogger(flags), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func newChatManager(profile agentconfig.Profile, logger *slog.Logger) (*realtime.Manager, error) {
	mgr := realtime.NewManager(brokerClient(profile), profile.Session,
		realtime.WithManagerLogger(logger),
		realtime.WithDialOptions(profile.DialOptions()...),
		realtime.WithToolTimeout(profile.ToolTimeout),
	)
	def, handler := catalog.New(profile.Products).Tool()
	if err := mgr.RegisterTool(def, handler); err != nil {
		return nil, err
	}
	return mgr, nil
}

func runChat(ctx context.Context, profile agentconfig.Profile, logger *slog.Logger, in io.Reader, out io.Writer) error {
	mgr, err := newChatManager(profile, logger)
	if err != nil {
		return err
	}

	p := newPrinter(out)
	mgr.OnTurnState(p.turnState)
	mgr.OnEvent(p.event)
	fatal := make(chan error, 1)
	mgr.OnFatal(func(err error) {
		select {
		case fatal <- err:
		default:
		}
	})

	if err := mgr.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer mgr.Close()

	p.banner(profile.Name)
	return repl(ctx, mgr, in, p, fatal)
}

// chatSession is the part of realtime.Manager the REPL drives.
type chatSession interface {
	SendText(text string) error
	State() turn.State
	Conversation() []history.Item
}

var errQuit = errors.New("quit")

// repl reads one message per line until EOF, /quit, ctx cancellation or a
// fatal channel error.
func repl(ctx context.Context, sess chatSession, in io.Reader, p *printer, fatal <-chan error) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			p.notice("interrupted, closing session")
			return nil
		case err := <-fatal:
			return fmt.Errorf("session failed: %w", err)
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("read input: %w", err)
					}
				default:
				}
				return nil
			}
			if err := handleLine(sess, strings.TrimSpace(line), p); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				p.failure(err)
			}
		}
	}
}

func handleLine(sess chatSession, line string, p *printer) error {
	switch line {
	case "":
		return nil
	case "/quit", "/exit":
		return errQuit
	case "/state":
		p.notice("state: " + sess.State().String())
		return nil
	case "/history":
		p.history(sess.Conversation())
		return nil
	}
	if strings.HasPrefix(line, "/") {
		p.notice("unknown command " + line)
		return nil
	}
	return sess.SendText(line)
}

// printer serializes output from the REPL and the session's event goroutine.
type printer struct {
	mu  sync.Mutex
	out io.Writer

	// response currently being streamed, if any
	streaming string

	you     *color.Color
	advisor *color.Color
	dim     *color.Color
	warn    *color.Color
	bad     *color.Color
}

func newPrinter(out io.Writer) *printer {
	return &printer{
		out:     out,
		you:     color.New(color.FgGreen, color.Bold),
		advisor: color.New(color.FgCyan, color.Bold),
		dim:     color.New(color.Faint),
		warn:    color.New(color.FgYellow),
		bad:     color.New(color.FgRed),
	}
}

func (p *printer) banner(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.advisor.Fprintf(p.out, "Connected to %s.", name)
	p.dim.Fprintln(p.out, " Type a message, or /quit to leave.")
}

func (p *printer) notice(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.breakLine()
	p.warn.Fprintln(p.out, msg)
}

func (p *printer) failure(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.breakLine()
	p.bad.Fprintf(p.out, "error: %v\n", err)
}

func (p *printer) turnState(from, to turn.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch to {
	case turn.SpeechDetected, turn.Processing:
		p.breakLine()
		p.dim.Fprintf(p.out, "[%s]\n", to)
	}
}

func (p *printer) history(items []history.Item) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.breakLine()
	if len(items) == 0 {
		p.dim.Fprintln(p.out, "(no messages yet)")
		return
	}
	for _, item := range items {
		p.speaker(item.Role)
		fmt.Fprintln(p.out, item.Text)
	}
}

func (p *printer) event(ev realtime.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch e := ev.(type) {
	case realtime.TranscriptDeltaEvent:
		if p.streaming != e.ResponseID {
			p.breakLine()
			p.speaker("assistant")
			p.streaming = e.ResponseID
		}
		fmt.Fprint(p.out, e.Delta)
	case realtime.ResponseDoneEvent:
		if p.streaming == e.ResponseID {
			p.breakLine()
		}
		if e.Status == "cancelled" {
			p.dim.Fprintln(p.out, "[cancelled]")
		}
	case realtime.InputTranscriptEvent:
		p.breakLine()
		p.speaker("user")
		fmt.Fprintln(p.out, strings.TrimSpace(e.Transcript))
	case realtime.ToolCallRequestedEvent:
		p.breakLine()
		p.dim.Fprintf(p.out, "[tool %s %s]\n", e.Name, string(e.Arguments))
	case realtime.ErrorEvent:
		p.breakLine()
		p.bad.Fprintf(p.out, "agent error: %s\n", e.Message)
	case realtime.ChannelClosedEvent:
		p.breakLine()
		if e.Err != nil {
			p.bad.Fprintf(p.out, "session closed: %v\n", e.Err)
		} else {
			p.warn.Fprintln(p.out, "session closed")
		}
	}
}

func (p *printer) speaker(role string) {
	switch role {
	case "user":
		p.you.Fprint(p.out, "you: ")
	case "assistant":
		p.advisor.Fprint(p.out, "advisor: ")
	default:
		p.dim.Fprintf(p.out, "%s: ", role)
	}
}

// breakLine ends an in-progress streamed response. Callers hold mu.
func (p *printer) breakLine() {
	if p.streaming != "" {
		fmt.Fprintln(p.out)
		p.streaming = ""
	}
}
