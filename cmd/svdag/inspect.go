package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hupe1980/svdag/internal/snapshot"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [name]",
	Short: "Print a snapshot's header and per-level sharing",
	Long: `Inspect loads a snapshot, validates its structure and prints how many
distinct nodes each level holds. Without a name the scene's current commit
is inspected.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		scene, store, err := openScene(cmd)
		if err != nil {
			return err
		}
		defer scene.Close()

		var name string
		if len(args) == 1 {
			name = args[0]
			hdr, err := snapshot.Inspect(ctx, store, name)
			if err != nil {
				return err
			}
			fmt.Printf("snapshot %s: format v%d, %s, body %d bytes, crc32c %08x\n",
				name, hdr.Version, hdr.Compression, hdr.BodyLength, hdr.Checksum)
		}

		dag, info, err := scene.Load(ctx, name)
		if err != nil {
			return err
		}
		if err := scene.Validate(dag); err != nil {
			return fmt.Errorf("validate %s: %w", info.Name, err)
		}
		st, err := scene.Describe(dag)
		if err != nil {
			return err
		}

		fmt.Printf("%s version %d: %s\n", info.Name, info.Version, dag)
		fmt.Printf("%d unique nodes, %d as a tree (%.1fx), %d voxels, %d encoded bytes\n\n",
			st.UniqueNodes, st.TreeNodes, st.CompressionRatio(), st.Voxels, st.EncodedBytes)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "LEVEL\tUNIQUE\tTREE")
		for _, l := range st.Levels {
			fmt.Fprintf(w, "%d\t%d\t%d\n", l.Level, l.Unique, l.Tree)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}
