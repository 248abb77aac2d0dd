package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List files stored in the vault",
	Args:    cobra.NoArgs,
	RunE:    runList,
}

var importsCmd = &cobra.Command{
	Use:   "imports",
	Short: "List pending (resumable) imports",
	Args:  cobra.NoArgs,
	RunE:  runImports,
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(importsCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	log := newLogger()
	store, err := openStore(log)
	if err != nil {
		return err
	}
	defer store.Close()

	files, err := store.Files(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSIZE\tCHUNKS")
	for _, f := range files {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", f.ID, f.Name, humanize.IBytes(uint64(f.Size)), f.ChunkCount)
	}
	return w.Flush()
}

func runImports(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	log := newLogger()
	store, err := openStore(log)
	if err != nil {
		return err
	}
	defer store.Close()

	pending, err := store.PendingImports(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTARGET\tPROGRESS\tSTARTED")
	for _, st := range pending {
		fmt.Fprintf(w, "%s\t%s\t%d/%d chunks\t%s\n",
			st.ID, st.TargetName, st.CommittedChunks, st.TotalChunks,
			humanize.Time(st.StartedAt))
	}
	return w.Flush()
}
