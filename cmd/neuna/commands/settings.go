package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neuna/neuna/internal/ui"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change speech settings",
	Long: `Show the saved speech settings, or change them with flags.

Rate and pitch are clamped to 0.5-2, volume to 0-1.

Examples:
  neuna settings
  neuna settings --voice Samantha --rate 1.2
`,
	RunE: runSettings,
}

var (
	settingsVoice  string
	settingsRate   float64
	settingsPitch  float64
	settingsVolume float64
)

var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "List installed English voices",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		voices, err := s.app.Voices(cmd.Context())
		if err != nil {
			return err
		}
		if len(voices) == 0 {
			fmt.Println("No English voices installed.")
			return nil
		}
		current := s.app.SpeechPreferences(cmd.Context()).Voice
		rows := make([][]string, 0, len(voices))
		for _, v := range voices {
			mark := ""
			if v.ID == current {
				mark = ui.Color(ui.Green, "*")
			}
			rows = append(rows, []string{mark, v.ID, v.Name, v.Lang})
		}
		fmt.Print(ui.RenderTable([]string{"", "ID", "NAME", "LANG"}, rows))
		return nil
	},
}

var sayCmd = &cobra.Command{
	Use:   "say <text>",
	Short: "Speak text with the saved voice settings",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context(), cmd)
		if err != nil {
			return err
		}
		defer s.Close()
		return withInterrupt(cmd.Context(), func(ctx context.Context) error {
			return s.app.Speak(ctx, strings.Join(args, " "))
		})
	},
}

func init() {
	settingsCmd.Flags().StringVar(&settingsVoice, "voice", "", "Voice id (see \"neuna voices\")")
	settingsCmd.Flags().Float64Var(&settingsRate, "rate", 0, "Speaking rate (0.5-2)")
	settingsCmd.Flags().Float64Var(&settingsPitch, "pitch", 0, "Pitch (0.5-2)")
	settingsCmd.Flags().Float64Var(&settingsVolume, "volume", 0, "Volume (0-1)")

	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(voicesCmd)
	rootCmd.AddCommand(sayCmd)
}

func runSettings(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	sp := s.app.SpeechPreferences(ctx)
	flags := cmd.Flags()
	changed := false
	if flags.Changed("voice") {
		sp.Voice, changed = settingsVoice, true
	}
	if flags.Changed("rate") {
		sp.Rate, changed = settingsRate, true
	}
	if flags.Changed("pitch") {
		sp.Pitch, changed = settingsPitch, true
	}
	if flags.Changed("volume") {
		sp.Volume, changed = settingsVolume, true
	}
	if changed {
		if sp, err = s.app.UpdateSpeechPreferences(ctx, sp); err != nil {
			return err
		}
	}

	voice := sp.Voice
	if voice == "" {
		voice = "(system default)"
	}
	fmt.Print(ui.RenderCard(ui.CardOptions{
		Title: "Speech settings",
		Rows: []ui.CardRow{
			{Label: "Voice", Value: voice},
			{Label: "Rate", Value: fmt.Sprintf("%.2f", sp.Rate)},
			{Label: "Pitch", Value: fmt.Sprintf("%.2f", sp.Pitch)},
			{Label: "Volume", Value: fmt.Sprintf("%.2f", sp.Volume)},
		},
		Width: 50,
	}))
	if changed {
		fmt.Println(ui.RenderSuccess("Saved."))
	}
	return nil
}
