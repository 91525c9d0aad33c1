package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/neuna/neuna/internal/llm"
	"github.com/neuna/neuna/internal/redact"
	"github.com/neuna/neuna/internal/ui"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check the model backend, or a running neuna web server",
	Long: `Check that the configured model backend is reachable.

With --server, query the gRPC health service of a running "web" binary
instead.

Examples:
  neuna health
  neuna health --server localhost:50051
`,
	RunE: runHealth,
}

var (
	healthServer string
	healthJSON   bool
)

func init() {
	healthCmd.Flags().StringVar(&healthServer, "server", "", "gRPC address of a neuna web server")
	healthCmd.Flags().BoolVar(&healthJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
	defer cancel()

	if healthServer != "" {
		return checkServer(ctx, healthServer)
	}

	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	backend, err := llm.NewBackend(ctx, cfg)
	if err != nil {
		return err
	}
	result, err := backend.Health(ctx)
	if err != nil {
		result = &llm.HealthResult{Ok: false, Provider: backend.Name(), Error: redact.Error(err)}
	}

	if healthJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	status := ui.Color(ui.Green, "OK")
	if !result.Ok {
		status = ui.Color(ui.Red, "UNREACHABLE")
	}
	rows := []ui.CardRow{
		{Label: "Status", Value: status},
		{Label: "Provider", Value: result.Provider},
		{Label: "Model", Value: result.Model},
	}
	if result.BaseURL != "" {
		rows = append(rows, ui.CardRow{Label: "URL", Value: result.BaseURL})
	}
	if result.Error != "" {
		rows = append(rows, ui.CardRow{Label: "Error", Value: result.Error, Color: ui.Red})
	}
	fmt.Print(ui.RenderCard(ui.CardOptions{Title: "Model backend", Rows: rows, Width: 60}))
	if !result.Ok {
		return fmt.Errorf("backend %s is not reachable", result.Provider)
	}
	return nil
}

func checkServer(ctx context.Context, addr string) error {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check %s: %w", addr, err)
	}
	if healthJSON {
		return json.NewEncoder(os.Stdout).Encode(map[string]string{"server": addr, "status": resp.GetStatus().String()})
	}
	fmt.Printf("%s: %s\n", addr, resp.GetStatus())
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("server %s is %s", addr, resp.GetStatus())
	}
	return nil
}
