package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neuna/neuna/internal/companion"
	"github.com/neuna/neuna/internal/mode"
	"github.com/neuna/neuna/internal/redact"
	"github.com/neuna/neuna/internal/ui"
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with Neuna",
	Long: `Start an interactive chat with Neuna. Neuna can switch your smart home
devices on and off and set the thermostat when you ask.

Examples:
  # Interactive mode
  neuna chat

  # Single message mode
  neuna chat "turn on the office light"
`,
	RunE: runChat,
}

const replayMessages = 6

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if len(args) > 0 {
		return sendChat(cmd.Context(), s.app, strings.Join(args, " "), false)
	}

	currentUser := "user"
	if u, err := user.Current(); err == nil {
		currentUser = u.Username
	}
	printHeader := func() {
		fmt.Print(ui.RenderHeader(Version, currentUser, s.app.Mode().String(), s.app.Backend()))
		fmt.Print(ui.RenderHelpLines())
	}
	printHeader()

	hist := s.app.History()
	if len(hist) > replayMessages {
		fmt.Println(ui.RenderDim(fmt.Sprintf("  ... %d earlier messages", len(hist)-replayMessages)))
		hist = hist[len(hist)-replayMessages:]
	}
	for _, m := range hist {
		fmt.Println(ui.RenderMessage(m.Role, m.Text))
	}
	if len(hist) > 0 {
		fmt.Println()
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(ui.RenderModeIndicator(s.app.Mode().String()) + " " + ui.RenderUserPrompt())
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if !strings.HasPrefix(input, "/") {
			if err := sendChat(cmd.Context(), s.app, input, true); err != nil {
				fmt.Println(ui.RenderError(err))
			}
			fmt.Println()
			continue
		}

		name, arg, _ := strings.Cut(strings.TrimPrefix(input, "/"), " ")
		arg = strings.TrimSpace(arg)
		switch strings.ToLower(name) {
		case "exit", "quit", "q":
			fmt.Println(ui.RenderDim("Goodbye!"))
			return nil
		case "help", "?":
			fmt.Print(ui.RenderHelpLines())
		case "clear":
			s.app.ClearChat()
			fmt.Print("\033[H\033[2J")
			printHeader()
		case "history":
			for _, m := range s.app.History() {
				fmt.Println(ui.RenderMessage(m.Role, m.Text))
			}
		case "mode":
			err = switchMode(s.app, arg)
		case "roast":
			err = withInterrupt(cmd.Context(), func(ctx context.Context) error { return roast(ctx, s.app) })
		case "listen":
			err = withInterrupt(cmd.Context(), func(ctx context.Context) error { return listen(ctx, s.app, 0) })
		case "notes":
			err = withInterrupt(cmd.Context(), func(ctx context.Context) error {
				_, err := generateNotes(ctx, s.app, arg, ".")
				return err
			})
		case "weather":
			err = withInterrupt(cmd.Context(), func(ctx context.Context) error {
				printWeather(s.app.Weather(ctx))
				return nil
			})
		case "devices":
			printDevices(s.app.Devices())
		case "toggle":
			err = toggleDevice(s.app, arg)
		case "set":
			id, value, _ := strings.Cut(arg, " ")
			err = setDevice(s.app, id, strings.TrimSpace(value))
		case "stop":
			s.app.StopSpeaking()
		default:
			err = fmt.Errorf("unknown command /%s (try /help)", name)
		}
		if err != nil {
			fmt.Println(ui.RenderError(err))
		}
		fmt.Println()
	}
	return scanner.Err()
}

// withInterrupt runs fn with a context cancelled by Ctrl+C, so an
// interrupt aborts the request without leaving the REPL.
func withInterrupt(parent context.Context, fn func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt)
	defer stop()
	return fn(ctx)
}

func sendChat(parent context.Context, app *companion.App, text string, interactive bool) error {
	return withInterrupt(parent, func(ctx context.Context) error {
		spinner := ui.NewSpinner("Thinking...")
		spinner.Start()
		ex, err := app.Chat(ctx, text)
		spinner.Stop()

		if ex == nil {
			return err
		}
		if interactive {
			fmt.Print(ui.RenderAssistantPrefix())
		}
		fmt.Println(ex.Reply.Text)
		uris := make([]string, 0, len(ex.Grounding))
		for _, g := range ex.Grounding {
			uris = append(uris, g.URI)
		}
		fmt.Print(ui.RenderSources(uris))
		if err != nil {
			fmt.Println(ui.RenderDim("(" + redact.Error(err) + ")"))
		}
		return nil
	})
}

func switchMode(app *companion.App, name string) error {
	if name == "" {
		names := make([]string, 0, 4)
		for _, m := range mode.All() {
			names = append(names, m.String())
		}
		fmt.Printf("Current mode: %s (available: %s)\n", app.Mode(), strings.Join(names, ", "))
		return nil
	}
	m, err := mode.ParseMode(name)
	if err != nil {
		return err
	}
	if _, err := app.SwitchMode(m); err != nil {
		return err
	}
	fmt.Println(ui.RenderSuccess("Switched to " + m.String() + " mode"))
	return nil
}

func toggleDevice(app *companion.App, id string) error {
	if id == "" {
		return fmt.Errorf("usage: toggle <device-id>")
	}
	d, err := app.ToggleDevice(id)
	if err != nil {
		return err
	}
	fmt.Println(ui.RenderSuccess(fmt.Sprintf("%s is now %s", d.Name, onOff(d.On))))
	return nil
}

func setDevice(app *companion.App, id, value string) error {
	if id == "" || value == "" {
		return fmt.Errorf("usage: set <device-id> <value>")
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value %q: %w", value, err)
	}
	d, err := app.SetDeviceValue(id, v)
	if err != nil {
		return err
	}
	fmt.Println(ui.RenderSuccess(fmt.Sprintf("%s set to %s", d.Name, formatValue(d.Value))))
	return nil
}
