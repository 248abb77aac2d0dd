package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/richoarbianto/vaultstream"
)

var catCmd = &cobra.Command{
	Use:   "cat <file-id>",
	Short: "Stream a stored file to stdout",
	Args:  cobra.ExactArgs(1),
	RunE:  runCat,
}

func init() {
	rootCmd.AddCommand(catCmd)
}

func runCat(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	log := newLogger()
	store, err := openStore(log)
	if err != nil {
		return err
	}
	defer store.Close()

	handle, err := store.File(ctx, args[0])
	if err != nil {
		return err
	}
	reader, err := vaultstream.OpenReader(ctx, store, handle, coreConfig(log))
	if err != nil {
		return err
	}
	defer reader.Close()

	_, err = io.Copy(os.Stdout, io.NewSectionReader(reader, 0, reader.Size()))
	return err
}
