package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"finsight/internal/tui"
	"finsight/monitor"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "finwatch <filing.pdf>",
		Short:         "Upload a filing and watch its ingestion live",
		Long:          "finwatch uploads a PDF filing to the finsight gateway and renders the ingestion pipeline's progress in the terminal: upload transfer, the eight processing stages, and the final chunk counts. It rings the terminal bell when ingestion completes.",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE:          runWatch,
	}

	// Persistent flags available to all subcommands
	root.PersistentFlags().StringP("server", "s", "http://localhost:8081", "Gateway base URL")
	root.PersistentFlags().Duration("poll-interval", 2*time.Second, "Fallback status poll interval")
	root.PersistentFlags().Bool("no-bell", false, "Disable the completion bell")

	root.Flags().String("company-id", "", "Company identifier to attach to the filing")
	root.Flags().String("company-name", "", "Company name to attach to the filing")
	root.Flags().String("fiscal-year", "", "Fiscal year the filing covers")

	initViper(root)

	root.AddCommand(newAttachCmd())
	root.AddCommand(newStatusCmd())

	return root
}

// initViper wires env overrides: FINWATCH_SERVER, FINWATCH_POLL_INTERVAL,
// FINWATCH_NO_BELL.
func initViper(root *cobra.Command) {
	viper.SetEnvPrefix("FINWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	_ = viper.BindPFlag("server", root.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("poll_interval", root.PersistentFlags().Lookup("poll-interval"))
	_ = viper.BindPFlag("no_bell", root.PersistentFlags().Lookup("no-bell"))
}

// Execute runs the CLI with the provided context.
func Execute(ctx context.Context) error {
	root := newRootCmd()
	return root.ExecuteContext(ctx)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	filePath := args[0]

	if _, err := os.Stat(filePath); err != nil {
		return fmt.Errorf("cannot read %s: %w", filePath, err)
	}

	mon, client := buildMonitor()
	defer mon.Close()

	// The id is minted locally so the transfer itself can be monitored
	// before the gateway has acknowledged anything.
	jobID := uuid.New().String()
	mon.Start(jobID)

	req := monitor.UploadRequest{
		JobID:       jobID,
		FilePath:    filePath,
		CompanyID:   mustString(cmd, "company-id"),
		CompanyName: mustString(cmd, "company-name"),
		FiscalYear:  mustString(cmd, "fiscal-year"),
	}

	go func() {
		_, err := client.Upload(ctx, req, func(pct float64) {
			mon.OnUploadProgress(jobID, pct)
		})
		if err != nil {
			mon.OnStatusSignal(jobID, monitor.StatusReport{
				Status:       monitor.StatusFailed,
				ErrorMessage: fmt.Sprintf("upload failed: %v", err),
			})
			return
		}
		mon.BeginProcessing(jobID)
	}()

	return tui.Run(ctx, mon, jobID, filepath.Base(filePath))
}

func newAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach <upload-id>",
		Short: "Watch an ingestion that is already running",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]
			if _, err := uuid.Parse(jobID); err != nil {
				return fmt.Errorf("invalid upload id: %w", err)
			}

			mon, _ := buildMonitor()
			defer mon.Close()

			mon.Start(jobID)
			mon.BeginProcessing(jobID)

			return tui.Run(cmd.Context(), mon, jobID, jobID)
		},
	}
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <upload-id>",
		Short: "Print the current status of an upload and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := monitor.NewClient(viper.GetString("server"), quietLogger())

			ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
			defer cancel()

			report, err := client.JobStatus(ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Printf("status:          %s\n", report.Status)
			fmt.Printf("chunks created:  %d\n", report.ChunksCreated)
			fmt.Printf("chunks stored:   %d\n", report.ChunksStored)
			if report.ErrorMessage != "" {
				fmt.Printf("error:           %s\n", report.ErrorMessage)
			}
			return nil
		},
	}
}

func buildMonitor() (*monitor.Monitor, *monitor.Client) {
	logger := quietLogger()
	client := monitor.NewClient(viper.GetString("server"), logger)

	cfg := monitor.Config{
		PollInterval: viper.GetDuration("poll_interval"),
	}
	if viper.GetBool("no_bell") {
		cfg.Cue = func() (monitor.Cue, error) { return monitor.BellCue(io.Discard), nil }
	}

	return monitor.New(client, cfg, logger), client
}

// quietLogger keeps transient warnings from tearing through the rendered UI;
// only errors reach stderr.
func quietLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func mustString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}
