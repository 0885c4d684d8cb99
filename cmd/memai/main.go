// memai is an interactive chat client for a local Ollama server. Every model
// keeps its own conversation memory on disk, and each turn's context is
// assembled under an adaptive token budget sized to the model's context
// window and the complexity of the question.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"memai/pkg/budget"
	"memai/pkg/config"
	"memai/pkg/logx"
	"memai/pkg/memory"
	"memai/pkg/ollamaclient"
	"memai/pkg/session"
	"memai/pkg/tokens"
)

const defaultSystemPrompt = "You are a helpful assistant with memory of this conversation."

type chatApp struct {
	client *ollamaclient.Client
	sess   *session.Session
	dots   *progressDots
	in     *bufio.Scanner
	logger *logx.Logger
	model  string
	mode   budget.Mode
}

func main() {
	home := flag.String("home", config.DefaultHome(), "memai home directory (config and memory)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		logx.SetDebug(true, nil)
	}

	if err := run(*home); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(home string) error {
	if err := config.LoadConfig(home); err != nil {
		return err
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		fmt.Println("\nGoodbye!")
		os.Exit(0)
	}()

	app := &chatApp{
		dots:   newProgressDots(),
		in:     newInputScanner(os.Stdin),
		logger: logx.NewLogger("memai"),
		mode:   budget.ModeChat,
	}

	client, err := app.connect(ctx, cfg)
	if err != nil {
		return err
	}
	app.client = client

	store, err := memory.NewStore(cfg.MemoryDir, cfg.BackupRetention)
	if err != nil {
		return err
	}

	// The exact tokenizer is a nice-to-have for stats; run without it if the
	// vocabulary fails to load.
	counter, err := tokens.NewTiktokenCounter()
	if err != nil {
		app.logger.Warn("exact token counts unavailable: %v", err)
		counter = nil
	}

	sess, err := session.New(session.Config{
		Store:        store,
		Planner:      budget.NewPlannerWithProfiles(cfg.BudgetProfiles()),
		Windows:      client,
		Estimator:    tokens.NewHeuristicEstimatorWithRatio(cfg.CharsPerToken),
		Counter:      counter,
		SystemPrompt: defaultSystemPrompt,
	})
	if err != nil {
		return err
	}
	app.sess = sess
	app.logger.Info("session %s started", sess.ID())

	if err := app.selectModel(ctx); err != nil {
		return err
	}
	return app.chatLoop(ctx)
}

// newInputScanner returns a line scanner sized for pasted prompts, which can
// exceed bufio's default 64KiB line limit.
func newInputScanner(r io.Reader) *bufio.Scanner {
	in := bufio.NewScanner(r)
	in.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return in
}

// connect verifies the Ollama server is reachable, prompting for a different
// port until it is. A port that works is persisted to the config so the next
// start connects directly.
func (a *chatApp) connect(ctx context.Context, cfg config.Config) (*ollamaclient.Client, error) {
	client := ollamaclient.New(cfg.OllamaHost, cfg.FallbackContextWindow)
	if client.Available(ctx) == nil {
		return client, nil
	}

	fmt.Println("Can't connect to Ollama")
	fmt.Println("Start Ollama then press RETURN")
	fmt.Println("Or enter new port number")

	for {
		fmt.Print("> ")
		if !a.in.Scan() {
			return nil, errors.New("cannot connect to Ollama, make sure it's running with: ollama serve")
		}
		answer := strings.TrimSpace(a.in.Text())

		if answer == "" {
			if client.Available(ctx) == nil {
				return client, nil
			}
			fmt.Println("Still can't connect. Try starting Ollama or enter port number")
			continue
		}

		port, err := strconv.Atoi(answer)
		if err != nil {
			fmt.Println("Please enter a port number or press RETURN")
			continue
		}
		if port < 1 || port > 65535 {
			fmt.Println("Port must be between 1 and 65535")
			continue
		}

		host, err := replacePort(cfg.OllamaHost, port)
		if err != nil {
			fmt.Println("Please enter a port number or press RETURN")
			continue
		}
		candidate := ollamaclient.New(host, cfg.FallbackContextWindow)
		if candidate.Available(ctx) != nil {
			fmt.Printf("Can't connect on port %d. Try another port or start Ollama\n", port)
			continue
		}

		if err := config.UpdateOllamaHost(host); err != nil {
			fmt.Printf("Could not save port (continuing anyway): %v\n", err)
		} else {
			fmt.Printf("Port %d saved for future use.\n", port)
		}
		return candidate, nil
	}
}

// replacePort swaps the port in a server URL, keeping scheme and hostname.
func replacePort(hostURL string, port int) (string, error) {
	u, err := url.Parse(hostURL)
	if err != nil {
		return "", err
	}
	hostname := u.Hostname()
	if hostname == "" {
		return "", fmt.Errorf("no hostname in %q", hostURL)
	}
	u.Host = net.JoinHostPort(hostname, strconv.Itoa(port))
	return u.String(), nil
}

// selectModel lists installed models, marks the ones already resident, and
// reads a choice by number or name. The chosen model is warmed up so the
// first turn answers promptly.
func (a *chatApp) selectModel(ctx context.Context) error {
	models, err := a.client.ListModels(ctx)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		fmt.Println("No models available")
		fmt.Println("Install one with: ollama pull qwen2.5:3b")
		return errors.New("no models installed")
	}

	loaded, err := a.client.LoadedModels(ctx)
	if err != nil {
		a.logger.Debug("could not list running models: %v", err)
		loaded = map[string]bool{}
	}

	fmt.Println("Available models:")
	for i, model := range models {
		status := ""
		if loaded[model] {
			status = " (loaded)"
		}
		fmt.Printf("%d. %s%s\n", i+1, model, status)
	}
	fmt.Println()

	for {
		fmt.Print("Choose model: ")
		if !a.in.Scan() {
			return errors.New("no model selected")
		}
		choice := strings.TrimSpace(a.in.Text())
		if choice == "" {
			continue
		}

		model := ""
		if n, err := strconv.Atoi(choice); err == nil {
			if n >= 1 && n <= len(models) {
				model = models[n-1]
			}
		} else {
			for _, m := range models {
				if m == choice {
					model = m
					break
				}
			}
		}
		if model == "" {
			fmt.Printf("Invalid choice. Pick 1-%d or model name.\n", len(models))
			continue
		}

		if !loaded[model] {
			fmt.Printf("Loading %s", model)
			a.dots.Start()
			err := a.client.EnsureLoaded(ctx, model)
			a.dots.Stop()
			if err != nil {
				fmt.Println("Failed to load model")
				a.logger.Debug("load %s: %v", model, err)
				continue
			}
		}

		a.model = model
		fmt.Println()
		return nil
	}
}

// chatLoop reads user input until quit, dispatching commands and chat turns.
func (a *chatApp) chatLoop(ctx context.Context) error {
	fmt.Printf("Chatting with %s. Type 'help' for commands.\n\n", a.model)

	for {
		fmt.Print("You: ")
		if !a.in.Scan() {
			fmt.Println("\nGoodbye!")
			return a.in.Err()
		}
		input := strings.TrimSpace(a.in.Text())
		if input == "" {
			continue
		}

		if done := a.dispatch(ctx, input); done {
			return nil
		}
	}
}

// dispatch runs one command or chat turn, reporting whether to exit.
func (a *chatApp) dispatch(ctx context.Context, input string) bool {
	switch {
	case input == "quit" || input == "exit" || input == "q":
		fmt.Println("Goodbye!")
		return true
	case input == "help":
		a.showHelp()
	case input == "model" || strings.HasPrefix(input, "model "):
		a.handleModelCommand(ctx, input)
	case input == "stats":
		a.showStats()
	case input == "clear":
		a.clearConversation()
	case input == "mode" || strings.HasPrefix(input, "mode "):
		a.handleModeCommand(input)
	default:
		a.turn(ctx, input)
	}
	return false
}

// turn runs one full exchange: plan, call the model, show and record the
// reply.
func (a *chatApp) turn(ctx context.Context, input string) {
	plan, err := a.sess.PrepareTurn(ctx, a.model, a.mode, input)
	if err != nil {
		fmt.Printf("Error: %v\n\n", err)
		return
	}
	if plan.Dropped != nil {
		a.logger.Debug("%d earlier exchanges summarized out of context", plan.Dropped.ExchangeCount)
	}

	a.dots.Start()
	resp, err := a.client.Chat(ctx, ollamaclient.ChatRequest{
		Model:     a.model,
		Messages:  plan.Messages,
		Tools:     plan.Tools,
		MaxTokens: plan.MaxResponseTokens(),
	})
	a.dots.Stop()
	if err != nil {
		fmt.Printf("Error: %v\n\n", err)
		return
	}
	if resp.Content == "" {
		fmt.Println("\n\033[96mmemAI:\033[0m Sorry, I couldn't generate a response.")
		fmt.Println()
		return
	}

	fmt.Printf("\n\033[96mmemAI:\033[0m %s\n\n", wrapText(resp.Content, wrapWidth, ""))

	if _, persisted := a.sess.CommitTurn(&plan, resp.Content); !persisted {
		fmt.Println("Warning: could not save this exchange; it will be forgotten on exit.")
		fmt.Println()
	}
}

func (a *chatApp) showHelp() {
	fmt.Println("\nCommands:")
	fmt.Println("  help         - Show this help")
	fmt.Println("  model        - Show current model")
	fmt.Println("  model <name> - Switch model")
	fmt.Println("  mode         - Show budget mode (chat or tools)")
	fmt.Println("  mode <name>  - Switch budget mode")
	fmt.Println("  stats        - Show conversation stats")
	fmt.Println("  clear        - Clear conversation history")
	fmt.Println("  quit         - Exit memAI")
	fmt.Println()
}

func (a *chatApp) handleModelCommand(ctx context.Context, input string) {
	name := strings.TrimSpace(strings.TrimPrefix(input, "model"))
	if name == "" {
		fmt.Printf("Current model: %s\n\n", a.model)
		return
	}

	models, err := a.client.ListModels(ctx)
	if err != nil {
		fmt.Printf("Error: %v\n\n", err)
		return
	}
	for _, m := range models {
		if m == name {
			a.model = m
			fmt.Printf("Switched to %s\n\n", m)
			return
		}
	}
	fmt.Printf("Unknown model %q. Type 'model' to see the current one.\n\n", name)
}

func (a *chatApp) handleModeCommand(input string) {
	name := strings.TrimSpace(strings.TrimPrefix(input, "mode"))
	if name == "" {
		fmt.Printf("Current mode: %s\n\n", a.mode)
		return
	}

	mode, err := budget.ParseMode(name)
	if err != nil {
		fmt.Printf("Error: %v\n\n", err)
		return
	}
	a.mode = mode
	fmt.Printf("Switched to %s mode\n\n", mode)
}

func (a *chatApp) showStats() {
	st := a.sess.Stats(a.model)

	fmt.Printf("\nConversation Stats for %s:\n", a.model)
	fmt.Printf("  Exchanges: %d\n", st.ExchangeCount)
	fmt.Printf("  Estimated tokens: %d\n", st.TotalTokens)
	if st.ExactTokens > 0 {
		fmt.Printf("  Exact tokens: %d\n", st.ExactTokens)
	}
	if st.ArchivedExchanges > 0 {
		fmt.Printf("  Archived exchanges: %d\n", st.ArchivedExchanges)
	}
	if st.OversizedCount > 0 {
		fmt.Printf("  Oversized exchanges: %d\n", st.OversizedCount)
	}
	if st.ContextWindow > 0 {
		fmt.Printf("  Context window: %d tokens (%.1f%% used)\n", st.ContextWindow, st.UtilizationPct)
	}
	if !st.CreatedAt.IsZero() {
		fmt.Printf("  Created: %s\n", st.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Println()
}

func (a *chatApp) clearConversation() {
	if err := a.sess.Clear(a.model); err != nil {
		fmt.Printf("Error: %v\n\n", err)
		return
	}
	fmt.Printf("Cleared conversation for %s\n\n", a.model)
}
