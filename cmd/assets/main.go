package assets

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/alpacahq/barback/api"
	"github.com/alpacahq/barback/configs"
	"github.com/alpacahq/barback/symbols"
	"github.com/alpacahq/barback/utils/log"
)

const (
	usage                 = "assets"
	short                 = "Refresh the symbol universe snapshot"
	long                  = "This command fetches the tradable assets from the provider, applies the configured filters and writes the universe snapshot CSV"
	example               = "barback assets --config <path>"
	defaultConfigFilePath = "./barback.yml"
	configDesc            = "set the path for the barback YAML configuration file"
)

var (
	// Cmd is the assets command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"a"},
		SuggestFor: []string{"universe", "symbols"},
		Example:    example,
		RunE:       executeAssets,
	}
	// configFilePath set flag for a path to the config file.
	configFilePath string
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	Cmd.Flags().StringVarP(&configFilePath, "config", "c", defaultConfigFilePath, configDesc)
}

// executeAssets implements the assets command.
func executeAssets(cmd *cobra.Command, _ []string) error {
	data, err := os.ReadFile(configFilePath)
	if err != nil {
		return errors.Wrap(err, "failed to read configuration file")
	}

	cmd.SilenceUsage = true

	config, err := configs.Parse(data)
	if err != nil {
		return errors.Wrap(err, "failed to parse configuration file")
	}
	log.SetLevel(config.LogLevel)

	client := api.NewClient(
		&api.APIKey{ID: config.APIKeyID, Secret: config.APISecretKey},
		config.BaseURL, config.DataBaseURL, config.ClientTimeout,
	)

	manager := symbols.NewAPIManager(client, config.Exchanges, config.SymbolPatterns)
	manager.UpdateSymbols()

	universe := manager.GetAllSymbols()
	if len(universe) == 0 {
		return errors.New("no symbols matched the configured filters")
	}

	if err := manager.WriteSnapshot(config.UniverseFile); err != nil {
		return err
	}
	log.Info("wrote %d symbols to %s", len(universe), config.UniverseFile)

	return nil
}
