package status

import (
	"fmt"
	"os"
	"path/filepath"

	"code.cloudfoundry.org/bytefmt"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/alpacahq/barback/configs"
	"github.com/alpacahq/barback/state"
	"github.com/alpacahq/barback/utils/log"
)

const (
	usage                 = "status"
	short                 = "Summarize the download progress"
	long                  = "This command summarizes the checkpoint: per-symbol progress, frontiers, horizons and the size of the stored CSV files"
	example               = "barback status --config <path>"
	defaultConfigFilePath = "./barback.yml"
	configDesc            = "set the path for the barback YAML configuration file"

	timeLayout = "2006-01-02 15:04:05"
)

var (
	// Cmd is the status command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"st"},
		SuggestFor: []string{"progress", "info"},
		Example:    example,
		RunE:       executeStatus,
	}
	// configFilePath set flag for a path to the config file.
	configFilePath string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&configFilePath, "config", "c", defaultConfigFilePath, configDesc)
}

// executeStatus implements the status command.
func executeStatus(cmd *cobra.Command, _ []string) error {
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return errors.Wrap(err, "failed to read configuration file")
	}

	cmd.SilenceUsage = true

	config, err := configs.Parse(data)
	if err != nil {
		return errors.Wrap(err, "failed to parse configuration file")
	}

	store := state.NewStore(config.CheckpointFile)
	rows, err := store.Load()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		log.Info("no checkpoint at %s yet, run `barback start` first", store.Path())
		return nil
	}

	complete := 0
	var totalSize uint64
	for _, row := range rows {
		size := fileSize(filepath.Join(config.DataDir, row.Symbol+".csv"))
		totalSize += size
		if row.Complete {
			complete++
		}

		fmt.Printf("%-10s %-11s frontier=%-20s horizon=%-20s %s\n",
			row.Symbol,
			progressWord(row),
			formatTime(row.Frontier, config),
			formatTime(row.Horizon, config),
			bytefmt.ByteSize(size),
		)
	}

	fmt.Printf("\n%d/%d symbols complete, %s of bars in %s\n",
		complete, len(rows), bytefmt.ByteSize(totalSize), config.DataDir)

	return nil
}

func progressWord(row *state.SymbolProgress) string {
	switch {
	case row.Complete:
		return "complete"
	case row.Frontier.IsZero():
		return "pending"
	default:
		return "in progress"
	}
}

func formatTime(dt state.DateTime, config *configs.Config) string {
	if dt.IsZero() {
		return "-"
	}
	return dt.In(config.Timezone).Format(timeLayout)
}

func fileSize(path string) uint64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return uint64(info.Size())
}
