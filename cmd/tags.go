package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/alt1f923/flightless/flightless"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	tagsExportOutput string
)

var tagsCmd = &cobra.Command{
	Use:   "tags",
	Short: "Inspect, export and import the tag store",
}

var tagsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tags and their owners",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSnapshot(cmd)
		if err != nil {
			return err
		}
		return writeTagList(cmd.OutOrStdout(), s)
	},
}

var tagsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every tag and alias as YAML",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := loadSnapshot(cmd)
		if err != nil {
			return err
		}

		if tagsExportOutput == "" || tagsExportOutput == "-" {
			return writeTagsYAML(cmd.OutOrStdout(), s)
		}
		f, err := os.Create(tagsExportOutput)
		if err != nil {
			return fmt.Errorf("error creating %s: %w", tagsExportOutput, err)
		}
		if err := writeTagsYAML(f, s); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("error closing %s: %w", tagsExportOutput, err)
		}
		return nil
	},
}

func writeTagsYAML(w io.Writer, s flightless.Snapshot) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("error encoding tags: %w", err)
	}
	return enc.Close()
}

var tagsImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Replace the tag store with a YAML export",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("error reading %s: %w", args[0], err)
		}
		var s flightless.Snapshot
		if err := yaml.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("error decoding %s: %w", args[0], err)
		}

		shelf, err := flightless.OpenShelf(ctx, cfg)
		if err != nil {
			return fmt.Errorf("error opening database: %w", err)
		}
		defer shelf.Close()

		engine := flightless.NewEngine(
			shelf,
			flightless.EngineConfig{AdminUserID: cfg.AdminUserID},
		)
		if err := engine.Replace(ctx, s); err != nil {
			return fmt.Errorf("error importing tags: %w", err)
		}

		imported := engine.Snapshot()
		fmt.Fprintf(
			cmd.OutOrStdout(),
			"Imported %d tags and %d aliases\n",
			len(imported.Tags),
			len(imported.Aliases),
		)
		return nil
	},
}

func loadSnapshot(cmd *cobra.Command) (flightless.Snapshot, error) {
	ctx := cmd.Context()
	shelf, err := flightless.OpenShelf(ctx, cfg)
	if err != nil {
		return flightless.Snapshot{}, fmt.Errorf("error opening database: %w", err)
	}
	defer shelf.Close()

	s, err := shelf.Load(ctx)
	if err != nil {
		return flightless.Snapshot{}, fmt.Errorf("error loading tags: %w", err)
	}
	return s, nil
}

func writeTagList(w io.Writer, s flightless.Snapshot) error {
	aliases := map[string][]string{}
	for _, a := range s.AliasList() {
		aliases[a.Target] = append(aliases[a.Target], a.Name)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tOWNER\tCREATED\tALIASES")
	for _, name := range s.TagNames() {
		t := s.Tags[name]
		created := "-"
		if t.CreatedAt > 0 {
			created = time.UnixMilli(t.CreatedAt).UTC().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", name, t.OwnerID, created, len(aliases[name]))
	}
	return tw.Flush()
}

//nolint:gochecknoinits
func init() {
	tagsExportCmd.Flags().StringVarP(
		&tagsExportOutput,
		"output",
		"o",
		"",
		"File to write to (default: stdout)",
	)
	tagsCmd.AddCommand(tagsListCmd, tagsExportCmd, tagsImportCmd)
	rootCmd.AddCommand(tagsCmd)
}
