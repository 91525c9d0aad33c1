package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/neuna/neuna/internal/companion"
	"github.com/neuna/neuna/internal/devices"
	"github.com/neuna/neuna/internal/notes"
	"github.com/neuna/neuna/internal/redact"
	"github.com/neuna/neuna/internal/ui"
	"github.com/neuna/neuna/internal/weather"
)

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func formatValue(v *float64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func printDevices(devs []devices.Device) {
	rows := make([][]string, 0, len(devs))
	for _, d := range devs {
		state := ui.Color(ui.Dim, onOff(d.On))
		if d.On {
			state = ui.Color(ui.Green, onOff(d.On))
		}
		value := ""
		if d.Value != nil {
			value = formatValue(d.Value) + "°F"
		}
		rows = append(rows, []string{d.ID, d.Name, string(d.Category), d.Room, state, value})
	}
	fmt.Print(ui.RenderTable([]string{"ID", "NAME", "TYPE", "ROOM", "STATE", "VALUE"}, rows))
}

func printWeather(r weather.Report) {
	if !r.OK() {
		msg := r.Message()
		if msg == "" {
			msg = weather.MsgUnparsable
		}
		fmt.Println(ui.Color(ui.Red, msg))
		fmt.Print(ui.RenderSources(r.Sources))
		return
	}
	w := r.Data
	rows := []ui.CardRow{
		{Label: "Temperature", Value: w.DisplayTemperature(), Color: ui.Bold},
		{Label: "Condition", Value: string(w.Condition)},
		{Label: "Humidity", Value: string(w.Humidity)},
		{Label: "Wind", Value: string(w.WindSpeed)},
		{Label: "Coordinates", Value: string(w.Coordinates)},
	}
	fmt.Print(ui.RenderCard(ui.CardOptions{
		Title: string(w.Location),
		Rows:  rows,
		Body:  string(w.Forecast),
	}))
	fmt.Print(ui.RenderSources(r.Sources))
	fmt.Println(ui.RenderDim("  Updated " + r.FetchedAt.Format(time.Kitchen)))
}

// roast opens the camera, takes one frame and prints the roast.
func roast(ctx context.Context, app *companion.App) error {
	if err := app.OpenCamera(ctx); err != nil {
		return err
	}
	frame, err := app.Capture(ctx)
	if err != nil {
		app.CloseCamera()
		return err
	}
	fmt.Println(ui.RenderDim(fmt.Sprintf("Captured %dx%d frame (%d KB)", frame.Width, frame.Height, len(frame.Data)/1024)))
	return printRoast(ctx, app, func(ctx context.Context) (*companion.Roast, error) { return app.Roast(ctx) })
}

func printRoast(ctx context.Context, app *companion.App, fn func(context.Context) (*companion.Roast, error)) error {
	spinner := ui.NewSpinner("Generating roast...")
	spinner.Start()
	r, err := fn(ctx)
	spinner.Stop()
	if r == nil {
		return err
	}
	fmt.Print(ui.RenderAssistantPrefix())
	fmt.Println(r.Text)
	if err != nil {
		fmt.Println(ui.RenderDim("(" + redact.Error(err) + ")"))
	}
	return nil
}

// listen records a voice message and prints the exchange it produced.
func listen(ctx context.Context, app *companion.App, d time.Duration) error {
	if d <= 0 {
		d = companion.DefaultListenDuration
	}
	spinner := ui.NewSpinner(fmt.Sprintf("Listening for %s...", d))
	spinner.Start()
	ex, err := app.Listen(ctx, d)
	spinner.Stop()
	if ex == nil {
		return err
	}
	fmt.Println(ui.RenderMessage("user", ex.User.Text))
	fmt.Println(ui.RenderMessage("assistant", ex.Reply.Text))
	if err != nil {
		fmt.Println(ui.RenderDim("(" + redact.Error(err) + ")"))
	}
	return nil
}

// generateNotes writes printable notes on topic into dir and returns the
// file path.
func generateNotes(ctx context.Context, app *companion.App, topic, dir string) (string, error) {
	spinner := ui.NewSpinner("Writing notes on " + topic + "...")
	spinner.Start()
	n, err := app.Notes(ctx, topic)
	spinner.Stop()
	if err != nil {
		return "", err
	}

	name, page, err := app.ExportNotes()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, page, 0644); err != nil {
		return "", fmt.Errorf("write notes: %w", err)
	}

	fmt.Println(ui.Color(ui.Bold, n.Topic))
	fmt.Println(notes.PlainText(n.HTML))
	fmt.Println()
	fmt.Println(ui.RenderSuccess("Saved printable notes to " + path))
	return path, nil
}
