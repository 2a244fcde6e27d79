package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/nerrad567/rx1-bridge/internal/host"
	"github.com/nerrad567/rx1-bridge/internal/rx1"
	"github.com/nerrad567/rx1-bridge/internal/rx1/engine"
	"github.com/nerrad567/rx1-bridge/internal/rx1/fields"
	"github.com/nerrad567/rx1-bridge/internal/rx1/snapshot"
)

func newPollCmd(configPath *string) *cobra.Command {
	var definitions bool

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run one refresh cycle and print the variables as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPoll(cmd.Context(), resolveConfigPath(*configPath), definitions, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&definitions, "definitions", false, "also print variable definitions")
	return cmd
}

// pollOutput is what "poll" prints.
type pollOutput struct {
	Status      host.Status         `json:"status"`
	Variables   fields.Values       `json:"variables"`
	Definitions []fields.Definition `json:"definitions,omitempty"`
}

// runPoll performs a single RefreshAll against the configured device.
// Nothing is persisted and no surface is started. The result is printed
// even when the device host is missing, with a bad_config status.
func runPoll(ctx context.Context, configPath string, withDefinitions bool, out io.Writer) error {
	cfg, log, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	writer := snapshot.New()
	registry := host.NewRegistry(writer.View())
	registry.SetLogger(log.Component("host"))

	eng, err := engine.New(engine.Options{
		Client:   rx1.NewClient(cfg.Device),
		Host:     registry,
		Snapshot: writer,
		Layout:   fields.LayoutFromConfig(cfg.Device.Layout),
		Settings: engine.SettingsFromConfig(cfg.Device),
		Logger:   log.Component("engine"),
	})
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	registry.SetDefinitions(eng.Definitions().Definitions())

	var pollErr error
	if cfg.Device.Host == "" {
		pollErr = rx1.ErrHostRequired
		registry.SetStatus(snapshot.BadConfig, pollErr.Error())
	} else {
		eng.RefreshAll(ctx)
	}

	result := pollOutput{
		Status:    registry.Status(),
		Variables: registry.Values(),
	}
	if withDefinitions {
		result.Definitions = registry.Definitions()
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return pollErr
}
