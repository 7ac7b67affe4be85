package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List registered models",
	Long:    "List all populated models registered in the local registry.",
	Args:    cobra.NoArgs,
	RunE:    runList,
}

func runList(cmd *cobra.Command, _ []string) error {
	mgr, err := newManager()
	if err != nil {
		return err
	}

	models, err := mgr.List()
	if err != nil {
		return fmt.Errorf("list models: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(models) == 0 {
		fmt.Fprintln(out, "No models registered. Use 'tfmeta populate --register model.tflite' to add one.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tMODEL\tVERSION\tFILES\tADDED")
	for _, m := range models {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			m.Name, formatSize(m.Size), orDash(m.ModelName), orDash(m.Version),
			len(m.Files), m.AddedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
