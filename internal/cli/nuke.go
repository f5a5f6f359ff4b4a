package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/sdkstore/internal/datastore"
)

// NewNukeCommand creates the nuke command.
func NewNukeCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "nuke",
		Short: "Delete both stores and recreate them empty",
		Long: `Delete the persistent and cache store files, including journals, and
recreate both empty. The device record is lost. Works on corrupt stores.

Example:
  sdkstore nuke --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return NewExitError(ExitCommandError, "refusing to nuke without --yes")
			}
			return withDatastore(rootOpts, func(ds *datastore.Datastore) error {
				if err := ds.Nuke(); err != nil {
					return WrapExitError(ExitFailure, "failed to nuke datastore", err)
				}
				return rootOpts.formatter(cmd).Success(statusView{Message: "stores nuked"})
			})
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm deletion")
	return cmd
}
