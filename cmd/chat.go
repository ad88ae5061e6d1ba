package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/simonyos/Z-NOTE/internal/chat"
	"github.com/simonyos/Z-NOTE/internal/config"
	"github.com/simonyos/Z-NOTE/internal/llm"
	"github.com/simonyos/Z-NOTE/internal/prompts"
	"github.com/simonyos/Z-NOTE/internal/theme"
)

var (
	contextFlag string
	timeoutFlag time.Duration
	rulesFlag   string
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with the configured provider",
	Long: `Chat with the configured provider. With a message argument a single
exchange is run; otherwise an interactive session starts.

Interactive commands:
  /new          start a new conversation
  /rate up|down rate the last reply
  /exit         quit

Ctrl+C cancels a reply in progress; pressing it again while idle exits.

Examples:
  znote chat "summarize my meeting notes" --context notes.yaml
  znote chat -p ollama -m llama3.2`,
	RunE: runChat,
}

func addChatFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&contextFlag, "context", "c", "", "YAML bundle of knowledge, open and mentioned documents")
	cmd.Flags().DurationVar(&timeoutFlag, "timeout", chat.DefaultTimeout, "Abort a reply that takes longer than this")
	cmd.Flags().StringVar(&rulesFlag, "rules", "", "Extra instructions appended to the system prompt")
}

func runChat(cmd *cobra.Command, args []string) error {
	logger := newLogger()
	defer logger.Sync()

	cfg := config.Get()
	orch := chat.New(chat.Config{
		Resolver: config.Resolver{Provider: providerFlag},
		Logger:   logger,
		Timeout:  timeoutFlag,
		Options: llm.Options{
			Model:       firstNonEmpty(modelFlag, cfg.DefaultModel),
			Temperature: cfg.Temperature,
		},
		Rules: rulesFlag,
	})

	if contextFlag != "" {
		sections, err := prompts.LoadSections(contextFlag)
		if err != nil {
			return err
		}
		orch.SetContext(sections)
	}

	out := cmd.OutOrStdout()
	p := newPrinter(out)
	orch.SetEventHandler(p)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if len(args) > 0 {
		ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
		defer stop()
		return reportSend(out, orch.Send(ctx, strings.Join(args, " ")))
	}
	return repl(ctx, cmd.InOrStdin(), out, orch, p, logger)
}

func repl(ctx context.Context, in io.Reader, out io.Writer, orch *chat.Orchestrator, p *printer, logger *zap.Logger) error {
	s := theme.Current
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt)
	defer signal.Stop(sigc)

	go func() {
		for range sigc {
			if !interrupt(orch) {
				fmt.Fprintln(out)
				os.Exit(0)
			}
			logger.Debug("interrupt, cancelling exchange")
		}
	}()

	id, _, _ := config.Resolver{Provider: providerFlag}.Resolve(ctx)
	fmt.Fprintln(out, s.Title.Render("Z-Note")+" "+s.Muted.Render(fmt.Sprintf("(%s) /new to reset, /exit to quit", id)))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, s.User.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == "":
			continue
		case line == "/exit" || line == "/quit":
			return nil
		case line == "/new":
			if err := orch.NewChat(); err != nil {
				fmt.Fprintln(out, s.Error.Render(err.Error()))
				continue
			}
			p.reset()
			fmt.Fprintln(out, s.Muted.Render("Started a new conversation."))
			continue
		case strings.HasPrefix(line, "/rate"):
			rateLast(out, orch, strings.TrimSpace(strings.TrimPrefix(line, "/rate")))
			continue
		}

		reportSend(out, orch.Send(ctx, line))
	}
}

// interrupt cancels the exchange in flight. It returns false when there is
// none, meaning the interrupt should exit.
func interrupt(orch *chat.Orchestrator) bool {
	if !orch.Busy() {
		return false
	}
	orch.Cancel()
	return true
}

// reportSend prints the outcome of an exchange. Cancellation is reported
// quietly and is not an error for the caller.
func reportSend(out io.Writer, err error) error {
	s := theme.Current
	switch {
	case err == nil:
		fmt.Fprintln(out)
		return nil
	case errors.Is(err, llm.ErrCancelled):
		fmt.Fprintln(out, "\n"+s.Warning.Render(llm.UserMessage(err)))
		return nil
	default:
		fmt.Fprintln(out, "\n"+s.Error.Render(llm.UserMessage(err)))
		fmt.Fprintln(out, s.Muted.Render(err.Error()))
		return err
	}
}

func rateLast(out io.Writer, orch *chat.Orchestrator, arg string) {
	s := theme.Current
	var r chat.Rating
	switch arg {
	case "up", "+":
		r = chat.ThumbsUp
	case "down", "-":
		r = chat.ThumbsDown
	default:
		fmt.Fprintln(out, s.Error.Render("usage: /rate up|down"))
		return
	}

	msgs := orch.Session().Messages
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleAssistant {
			if err := orch.Rate(i, r); err != nil {
				fmt.Fprintln(out, s.Error.Render(err.Error()))
				return
			}
			fmt.Fprintln(out, s.Success.Render("Thanks for the feedback."))
			return
		}
	}
	fmt.Fprintln(out, s.Error.Render("nothing to rate yet"))
}

// printer writes streamed replies as they grow
type printer struct {
	out     io.Writer
	index   int
	printed int
}

func newPrinter(out io.Writer) *printer {
	return &printer{out: out, index: -1}
}

func (p *printer) reset() {
	p.index = -1
	p.printed = 0
}

// OnUpdate implements chat.EventHandler
func (p *printer) OnUpdate(messages []chat.Message) {
	if len(messages) == 0 {
		return
	}
	last := len(messages) - 1
	m := messages[last]
	if m.Role != chat.RoleAssistant || (!m.Generating && last != p.index) {
		return
	}
	if last != p.index {
		p.index = last
		p.printed = 0
		fmt.Fprintln(p.out, theme.Current.Assistant.Render("Z-Note"))
	}
	if len(m.Content) > p.printed {
		fmt.Fprint(p.out, m.Content[p.printed:])
		p.printed = len(m.Content)
	}
}

// OnState implements chat.EventHandler
func (p *printer) OnState(state chat.State) {
	if state == chat.Sending {
		fmt.Fprint(p.out, theme.Current.Muted.Render("...")+"\r")
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func init() {
	addChatFlags(chatCmd)
	rootCmd.AddCommand(chatCmd)
}
