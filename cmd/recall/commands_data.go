package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func buildExportCmd() *cobra.Command {
	var (
		configPath string
		outPath    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all data as portable JSON",
		Long: `Write every entity as JSON, grouped by type with ids preserved.
Vectors are not exported; they are regenerated after import.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore(configPath)
			if err != nil {
				return err
			}
			defer c.Close()

			w := cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return c.Export(cmd.Context(), w)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Output file (default: stdout)")
	return cmd
}

func buildImportCmd() *cobra.Command {
	var (
		configPath string
		replace    bool
	)
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import a JSON export",
		Long: `Read a previously exported bundle. Merge mode (default) inserts only
ids not already present; --replace drops existing rows first.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore(configPath)
			if err != nil {
				return err
			}
			defer c.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			stats, err := c.Import(cmd.Context(), f, replace)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"imported %d conversations, %d messages, %d memories, %d documents, %d web pages (%d skipped)\n",
				stats.Conversations, stats.Messages, stats.MemoryItems,
				stats.Documents, stats.WebPages, stats.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	cmd.Flags().BoolVar(&replace, "replace", false, "Drop existing rows before importing")
	return cmd
}

func buildStatsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store contents and disk usage",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore(configPath)
			if err != nil {
				return err
			}
			defer c.Close()

			st, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "conversations:     %d\n", st.Conversations)
			fmt.Fprintf(out, "messages:          %d\n", st.Messages)
			fmt.Fprintf(out, "memory items:      %d\n", st.MemoryItems)
			fmt.Fprintf(out, "documents:         %d\n", st.Documents)
			fmt.Fprintf(out, "web pages:         %d\n", st.WebPages)
			fmt.Fprintf(out, "embedding records: %d\n", st.EmbeddingRecords)
			fmt.Fprintf(out, "vectors:           %d\n", st.Vectors)
			fmt.Fprintf(out, "metadata store:    %d bytes\n", st.MetadataBytes)
			fmt.Fprintf(out, "vector store:      %d bytes\n", st.VectorBytes)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}

func buildOptimizeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Compact both stores",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openCore(configPath)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.Optimize(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "optimized")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath(), "Path to YAML configuration file")
	return cmd
}
