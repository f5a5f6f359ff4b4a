package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sdkstore/internal/datastore"
)

// NewInfoCommand creates the info command.
func NewInfoCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show store paths, schema versions and record counts",
		Long: `Open the store pair (creating it if needed) and report paths, schema
versions, instance ids, whether a device record is set and how many cache
entries exist.

Example:
  sdkstore info --persistent-path ./persistent.db --cache-path ./cache.db`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatastore(rootOpts, func(ds *datastore.Datastore) error {
				info, err := ds.Info()
				if err != nil {
					return WrapExitError(ExitFailure, "failed to read store info", err)
				}
				return rootOpts.formatter(cmd).Success(infoView{info})
			})
		},
	}
}

type infoView struct {
	datastore.Info
}

func (v infoView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "persistent: %s (schema %d, instance %s)\n", v.PersistentPath, v.PersistentVersion, v.PersistentInstanceID)
	fmt.Fprintf(&b, "cache:      %s (schema %d, instance %s)\n", v.CachePath, v.CacheVersion, v.CacheInstanceID)
	fmt.Fprintf(&b, "device record: %t\n", v.HasDevice)
	fmt.Fprintf(&b, "cache entries: %d", v.CacheEntries)
	return b.String()
}
