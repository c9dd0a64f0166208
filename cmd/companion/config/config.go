// Package configcmder provides the config command for managing persistent
// companion configuration stored in the .companion/ directory.
package configcmder

import (
	"github.com/spf13/cobra"
)

const configLongDesc string = `Manage persistent companion configuration.

Configuration is stored as config.toml in the .companion/ directory and
provides default values for command flags. CLI flags always take precedence
over config file values.

Keys use dotted notation matching the TOML section structure:
  storage.driver, storage.sqlite_path, api.listen,
  vector_store.driver, vector_store.host, vector_store.collection,
  embedding.target, embedding.model, synthesis.target, synthesis.model,
  chunking.size, chunking.overlap, ingest.workers, query.top_k, ...

Use subcommands to get, set, or list configuration values:
  companion config set <key> <value>    Set a configuration value
  companion config get <key>            Get a configuration value
  companion config list                 List all configuration values

Examples:
  companion config set vector_store.driver qdrant
  companion config set embedding.model nomic-embed-text
  companion config get query.top_k
  companion config list`

const configShortDesc string = "Manage persistent companion configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}
