package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/neuna/neuna/internal/capture"
	"github.com/neuna/neuna/internal/companion"
)

var roastCmd = &cobra.Command{
	Use:   "roast",
	Short: "Take a picture and let Neuna roast it",
	Long: `Capture a frame from the configured camera (NEUNA_CAMERA) and send it
to the vision model to be roasted, identified and explained.

Examples:
  # Roast whatever the camera sees
  neuna roast

  # Roast an image file
  neuna roast --file selfie.png
`,
	RunE: runRoast,
}

var roastFile string

var notesCmd = &cobra.Command{
	Use:   "notes <topic>",
	Short: "Generate printable study notes",
	Long: `Ask Neuna for structured study notes on a topic. The notes are printed
and saved as a print-ready HTML page.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runNotes,
}

var notesOutDir string

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Speak a message to Neuna",
	Long: `Record from the microphone, transcribe the clip and send the transcript
as a chat message. Requires arecord (alsa-utils) or sox.`,
	RunE: runListen,
}

var listenSeconds int

func init() {
	roastCmd.Flags().StringVarP(&roastFile, "file", "f", "", "Roast an image file instead of the camera")
	notesCmd.Flags().StringVarP(&notesOutDir, "out", "o", ".", "Directory to save the printable notes in")
	listenCmd.Flags().IntVarP(&listenSeconds, "seconds", "s", 5, "Recording length in seconds (max 60)")

	rootCmd.AddCommand(roastCmd)
	rootCmd.AddCommand(notesCmd)
	rootCmd.AddCommand(listenCmd)
}

func runRoast(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	if roastFile == "" {
		return withInterrupt(cmd.Context(), func(ctx context.Context) error { return roast(ctx, s.app) })
	}

	frame, err := capture.DecodeFile(roastFile, capture.Encoding{})
	if err != nil {
		return err
	}
	return withInterrupt(cmd.Context(), func(ctx context.Context) error {
		return printRoast(ctx, s.app, func(ctx context.Context) (*companion.Roast, error) {
			return s.app.RoastImage(ctx, frame)
		})
	})
}

func runNotes(cmd *cobra.Command, args []string) error {
	s, err := openSession(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	topic := strings.Join(args, " ")
	return withInterrupt(cmd.Context(), func(ctx context.Context) error {
		_, err := generateNotes(ctx, s.app, topic, notesOutDir)
		return err
	})
}

func runListen(cmd *cobra.Command, args []string) error {
	if listenSeconds <= 0 {
		return fmt.Errorf("--seconds must be positive")
	}
	s, err := openSession(cmd.Context(), cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	return withInterrupt(cmd.Context(), func(ctx context.Context) error {
		return listen(ctx, s.app, secondsDuration(listenSeconds))
	})
}
