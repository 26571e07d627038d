package peek

import (
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/alpacahq/barback/api"
	"github.com/alpacahq/barback/configs"
	"github.com/alpacahq/barback/state"
	"github.com/alpacahq/barback/utils/log"
)

const (
	usage                 = "peek <symbol>"
	short                 = "Print the most recent daily bars of a symbol"
	long                  = "This command fetches the recent daily bars of one symbol straight from the provider, bypassing the local files. Useful as a smoke test for credentials and connectivity"
	example               = "barback peek AAPL --days 5"
	defaultConfigFilePath = "./barback.yml"
	configDesc            = "set the path for the barback YAML configuration file"

	defaultDays = 5
)

var (
	// Cmd is the peek command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		SuggestFor: []string{"show", "tail"},
		Example:    example,
		Args:       cobra.ExactArgs(1),
		RunE:       executePeek,
	}
	// configFilePath set flag for a path to the config file.
	configFilePath string
	// flagDays set flag for how many days to look back.
	flagDays int
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&configFilePath, "config", "c", defaultConfigFilePath, configDesc)
	Cmd.Flags().IntVarP(&flagDays, "days", "d", defaultDays, "how many days to look back")
}

// executePeek implements the peek command.
func executePeek(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return errors.Wrap(err, "failed to read configuration file")
	}

	cmd.SilenceUsage = true

	config, err := configs.Parse(data)
	if err != nil {
		return errors.Wrap(err, "failed to parse configuration file")
	}

	client := api.NewClient(
		&api.APIKey{ID: config.APIKeyID, Secret: config.APISecretKey},
		config.BaseURL, config.DataBaseURL, config.ClientTimeout,
	)

	symbol := state.NormalizeSymbol(args[0])
	end := time.Now()
	start := end.Add(-time.Duration(flagDays) * 24 * time.Hour)

	bars, err := client.GetBars(symbol, api.GetBarsParams{
		TimeFrame:  api.OneDay,
		Adjustment: api.Raw,
		Start:      start,
		End:        end,
		Sort:       api.SortAsc,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to fetch bars for %s", symbol)
	}
	if len(bars) == 0 {
		log.Warn("no bars for %s in the last %d days", symbol, flagDays)
		return nil
	}

	for _, bar := range bars {
		fmt.Printf("%s  open=%.2f high=%.2f low=%.2f close=%.2f volume=%d\n",
			bar.Timestamp.In(config.Timezone).Format("2006-01-02"),
			bar.Open, bar.High, bar.Low, bar.Close, bar.Volume,
		)
	}

	return nil
}
