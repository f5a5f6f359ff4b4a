package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/sdkstore/internal/boundary"
	"github.com/roach88/sdkstore/internal/datastore"
	"github.com/roach88/sdkstore/internal/store"
)

// NewCacheCommand creates the cache command group.
func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	var encoding string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Write or look up cache entries",
	}
	cmd.PersistentFlags().StringVar(&encoding, "encoding", EncodingHex, "key and value encoding (hex|base64|text)")

	cmd.AddCommand(newCachePutCommand(rootOpts, &encoding))
	cmd.AddCommand(newCacheFindCommand(rootOpts, &encoding))
	return cmd
}

func newCachePutCommand(rootOpts *RootOptions, encoding *string) *cobra.Command {
	var onConflict string

	cmd := &cobra.Command{
		Use:   "put <key> <value> [<key> <value>...]",
		Short: "Write key/value pairs as one batch",
		Long: `Write key/value pairs in one transaction. With --on-conflict fail (the
default) an existing key aborts the whole batch; ignore keeps stored
values; replace overwrites them. A key repeated in one batch keeps its
last value.

Example:
  sdkstore cache put --encoding text k1 v1 k2 v2 --on-conflict replace`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || len(args)%2 != 0 {
				return fmt.Errorf("expected key/value pairs, got %d arguments", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := store.ParseOnConflict(onConflict)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --on-conflict", err)
			}
			decoded, err := decodeArgs(*encoding, args)
			if err != nil {
				return err
			}

			var keys, values [][]byte
			for i := 0; i < len(decoded); i += 2 {
				keys = append(keys, decoded[i])
				values = append(values, decoded[i+1])
			}
			entries, err := boundary.Batch(keys, values)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid batch", err)
			}

			return withDatastore(rootOpts, func(ds *datastore.Datastore) error {
				if err := ds.PutCacheEntries(entries, policy); err != nil {
					return WrapExitError(ExitFailure, "failed to write cache entries", err)
				}
				return rootOpts.formatter(cmd).Success(statusView{
					Message: fmt.Sprintf("%d cache entries written (%s)", len(entries), policy),
					Count:   len(entries),
				})
			})
		},
	}

	cmd.Flags().StringVar(&onConflict, "on-conflict", store.OnConflictFail.String(), "policy for existing keys (fail|ignore|replace)")
	return cmd
}

func newCacheFindCommand(rootOpts *RootOptions, encoding *string) *cobra.Command {
	return &cobra.Command{
		Use:   "find <key>...",
		Short: "Look up cache entries",
		Long: `Look up keys and print one line per key, in argument order. Unknown keys
print <absent>.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := decodeArgs(*encoding, args)
			if err != nil {
				return err
			}
			return withDatastore(rootOpts, func(ds *datastore.Datastore) error {
				lookups, err := ds.FindCacheEntries(keys)
				if err != nil {
					return WrapExitError(ExitFailure, "failed to look up cache entries", err)
				}

				view := findView{Slots: make([]slotView, len(lookups))}
				for i, l := range lookups {
					view.Slots[i] = slotView{Key: args[i], Present: l.Found}
					if l.Found {
						v := encodeBytes(*encoding, l.Value)
						view.Slots[i].Value = &v
					}
				}
				return rootOpts.formatter(cmd).Success(view)
			})
		},
	}
}

type slotView struct {
	Key     string  `json:"key"`
	Value   *string `json:"value"`
	Present bool    `json:"present"`
}

type findView struct {
	Slots []slotView `json:"slots"`
}

func (v findView) String() string {
	lines := make([]string, len(v.Slots))
	for i, s := range v.Slots {
		value := "<absent>"
		if s.Present {
			value = *s.Value
		}
		lines[i] = s.Key + "\t" + value
	}
	return strings.Join(lines, "\n")
}
