package commands

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var weatherCmd = &cobra.Command{
	Use:   "weather",
	Short: "Show the weather where you are",
	Long: `Locate you (NEUNA_LOCATION) and ask the model, with search grounding,
for the current weather. US locations show Fahrenheit first.

With --watch the report refreshes every NEUNA_WEATHER_REFRESH (15m by
default) until interrupted. A failed refresh stops further updates.`,
	RunE: runWeather,
}

var (
	weatherJSON  bool
	weatherWatch bool
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List and control smart home devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		printDevices(s.app.Devices())
		return nil
	},
}

var devicesToggleCmd = &cobra.Command{
	Use:   "toggle <device-id>",
	Short: "Turn a device on or off",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		return toggleDevice(s.app, args[0])
	},
}

var devicesSetCmd = &cobra.Command{
	Use:   "set <device-id> <value>",
	Short: "Set a thermostat's target temperature",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		return setDevice(s.app, args[0], args[1])
	},
}

func init() {
	weatherCmd.Flags().BoolVar(&weatherJSON, "json", false, "Output as JSON")
	weatherCmd.Flags().BoolVarP(&weatherWatch, "watch", "w", false, "Keep refreshing the report")

	devicesCmd.AddCommand(devicesToggleCmd)
	devicesCmd.AddCommand(devicesSetCmd)

	rootCmd.AddCommand(weatherCmd)
	rootCmd.AddCommand(devicesCmd)
}

func runWeather(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if weatherWatch {
		return withInterrupt(cmd.Context(), func(ctx context.Context) error {
			w := s.app.WeatherWatcher(s.cfg.WeatherRefresh, printWeather)
			err := w.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	return withInterrupt(cmd.Context(), func(ctx context.Context) error {
		r := s.app.Weather(ctx)
		if !weatherJSON {
			printWeather(r)
			return nil
		}
		out := struct {
			Data    any      `json:"data,omitempty"`
			Sources []string `json:"sources"`
			Error   string   `json:"error,omitempty"`
		}{Sources: r.Sources, Error: r.Message()}
		if r.Data != nil {
			out.Data = r.Data
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	})
}

func secondsDuration(n int) time.Duration {
	return time.Duration(n) * time.Second
}
