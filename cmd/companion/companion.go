// Package companioncmder
package companioncmder

import (
	"github.com/spf13/cobra"

	askcmder "github.com/knowledgeco/companion/cmd/companion/ask"
	configcmder "github.com/knowledgeco/companion/cmd/companion/config"
	servecmder "github.com/knowledgeco/companion/cmd/companion/serve"
	versioncmder "github.com/knowledgeco/companion/cmd/version"
)

const companionLongDesc string = `Companion is a reading companion: upload documents, let them be
ingested into a searchable index, and ask questions answered with citations.

Run services using:
  companion serve      Run the HTTP API server
  companion ask        Ask a question against a running server
  companion config     Manage persistent configuration`

const companionShortDesc string = "Companion - document question answering"

func NewCompanionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "companion",
		Short: companionShortDesc,
		Long:  companionLongDesc,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .companion/ config directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(askcmder.NewAskCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
