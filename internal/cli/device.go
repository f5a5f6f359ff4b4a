package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/sdkstore/internal/datastore"
)

// NewDeviceCommand creates the device command group.
func NewDeviceCommand(rootOpts *RootOptions) *cobra.Command {
	var encoding string

	cmd := &cobra.Command{
		Use:   "device",
		Short: "Read or replace the device record",
	}
	cmd.PersistentFlags().StringVar(&encoding, "encoding", EncodingHex, "record encoding (hex|base64|text)")

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Print the device record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDatastore(rootOpts, func(ds *datastore.Datastore) error {
				record, err := ds.GetDeviceRecord()
				if err != nil {
					return WrapExitError(ExitFailure, "failed to read device record", err)
				}
				return rootOpts.formatter(cmd).Success(recordView{
					Record:   encodeBytes(encoding, record),
					Encoding: encoding,
					Size:     len(record),
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <record>",
		Short: "Replace the device record",
		Long: `Replace the device record with the given bytes.

Example:
  sdkstore device set 0a0b0c
  sdkstore device set --encoding text "serialized device"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			decoded, err := decodeArgs(encoding, args)
			if err != nil {
				return err
			}
			record := decoded[0]
			return withDatastore(rootOpts, func(ds *datastore.Datastore) error {
				if err := ds.SetDeviceRecord(record); err != nil {
					return WrapExitError(ExitFailure, "failed to write device record", err)
				}
				return rootOpts.formatter(cmd).Success(statusView{
					Message: fmt.Sprintf("device record written (%d bytes)", len(record)),
					Count:   len(record),
				})
			})
		},
	})

	return cmd
}

type recordView struct {
	Record   string `json:"record"`
	Encoding string `json:"encoding"`
	Size     int    `json:"size"`
}

func (v recordView) String() string {
	return v.Record
}
