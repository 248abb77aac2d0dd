package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var abortImport bool

var rmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Remove a stored file, or abort a pending import with --import",
	Long: `Remove shreds the target's encrypted chunks (overwrite with random
bytes, then unlink) before dropping its registry record.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemove,
}

func init() {
	rmCmd.Flags().BoolVar(&abortImport, "import", false, "Treat the id as a pending import and abort it")
	rootCmd.AddCommand(rmCmd)
}

func runRemove(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	log := newLogger()
	store, err := openStore(log)
	if err != nil {
		return err
	}
	defer store.Close()

	if abortImport {
		if err := store.AbortImport(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("Aborted import %s\n", args[0])
		return nil
	}
	if err := store.RemoveFile(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed %s\n", args[0])
	return nil
}
