package start

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/alpacahq/barback/api"
	"github.com/alpacahq/barback/configs"
	"github.com/alpacahq/barback/feed"
	"github.com/alpacahq/barback/state"
	"github.com/alpacahq/barback/symbols"
	"github.com/alpacahq/barback/utils/log"
	"github.com/alpacahq/barback/writer"
)

const (
	usage                 = "start"
	short                 = "Start a minute bar download run"
	long                  = "This command starts a download run that backfills minute bars for the configured symbol universe, newest chunk first, resuming from the checkpoint"
	example               = "barback start --config <path>"
	defaultConfigFilePath = "./barback.yml"
	configDesc            = "set the path for the barback YAML configuration file"
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"run", "download", "backfill"},
		Example:    example,
		RunE:       executeStart,
	}
	// configFilePath set flag for a path to the config file.
	configFilePath string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&configFilePath, "config", "c", defaultConfigFilePath, configDesc)
}

// executeStart implements the start command.
func executeStart(cmd *cobra.Command, _ []string) error {
	// Attempt to read config file.
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return errors.Wrap(err, "failed to read configuration file")
	}

	// Don't output command usage if the args are correct
	cmd.SilenceUsage = true

	// Log config location.
	log.Info("using %v for configuration", configFilePath)

	// Attempt to set configuration.
	config, err := configs.Parse(data)
	if err != nil {
		return errors.Wrap(err, "failed to parse configuration file")
	}
	log.SetLevel(config.LogLevel)

	client := api.NewClient(
		&api.APIKey{ID: config.APIKeyID, Secret: config.APISecretKey},
		config.BaseURL, config.DataBaseURL, config.ClientTimeout,
	)

	// Check the credentials and the account standing up front. A bad
	// account only warns: the data API may still serve history.
	if account, err := client.GetAccount(); err != nil {
		log.Warn("failed to verify the account, proceeding anyway: %v", err)
	} else if account.Status != api.AccountStatusActive {
		log.Warn("account %s is %s, requests may be rejected", account.AccountNumber, account.Status)
	}

	// Assemble the symbol universe: an explicit symbol list in the
	// configuration wins over the assets endpoint.
	var symbolManager symbols.Manager
	if len(config.Symbols) > 0 {
		symbolManager = symbols.NewStaticManager(config.Symbols)
	} else {
		apiManager := symbols.NewAPIManager(client, config.Exchanges, config.SymbolPatterns)
		apiManager.UpdateSymbols()
		if err := apiManager.WriteSnapshot(config.UniverseFile); err != nil {
			log.Warn("failed to write the universe snapshot: %v", err)
		}
		symbolManager = apiManager
	}

	backfill := feed.NewBackfill(
		symbolManager,
		feed.NewRangeFetcher(client, config.Timezone),
		writer.NewCSVWriter(config.DataDir, config.Timezone),
		state.NewStore(config.CheckpointFile),
		feed.NewRetrier(config.MaxRetries, config.RetryWait),
		config.ChunkDays,
		config.Parallelism,
	)

	// Spawn a goroutine and listen for a signal.
	const defaultSignalChanLen = 10
	signalChan := make(chan os.Signal, defaultSignalChanLen)
	go func() {
		for s := range signalChan {
			switch s {
			case syscall.SIGINT, syscall.SIGTERM:
				log.Info("initiating graceful shutdown due to '%v' request", s)
				backfill.RequestStop()
			}
		}
	}()
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	start := time.Now()
	if err := backfill.Run(); err != nil {
		return errors.Wrap(err, "download run failed")
	}
	log.Info("run finished in %s", time.Since(start))

	return nil
}
