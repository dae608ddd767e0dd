package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/cobra"

	"github.com/cameronsjo/rigger/internal/fileutil"
	"github.com/cameronsjo/rigger/internal/manifest"
	"github.com/cameronsjo/rigger/internal/order"
	"github.com/cameronsjo/rigger/internal/overlay"
	"github.com/cameronsjo/rigger/internal/ui"
)

var buildOutput string

var buildCmd = &cobra.Command{
	Use:   "build [layer]",
	Short: "Print the resolved documents of a layer",
	Long: `Resolve a layer with its bases, patches, generators and transformers and
print the resulting documents as one YAML stream.

Examples:
  rigger build prod                  # Print to stdout
  rigger build prod -o rendered.yaml # Write to a file`,
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeLayers,
	RunE:              runBuild,
}

var orderCmd = &cobra.Command{
	Use:               "order [layer]",
	Short:             "Show the apply order of a layer",
	Args:              cobra.MaximumNArgs(1),
	ValidArgsFunction: completeLayers,
	RunE:              runOrder,
}

var diffCmd = &cobra.Command{
	Use:   "diff <from> <to>",
	Short: "Compare two resolved layers",
	Long: `Resolve two layers and show the documents added, removed and changed
going from the first to the second.

Examples:
  rigger diff staging prod`,
	Args: cobra.ExactArgs(2),
	RunE: runDiff,
}

func init() {
	buildCmd.Flags().StringVarP(&buildOutput, "output", "o", "", "Write documents to a file")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(orderCmd)
	rootCmd.AddCommand(diffCmd)
}

// resolveLayer resolves the layer named by args. Warnings go to stderr so
// that stdout stays a clean document stream.
func resolveLayer(cmd *cobra.Command, args []string) (*project, *overlay.Result, error) {
	p, err := loadProject()
	if err != nil {
		return nil, nil, err
	}
	name, err := p.layer(args)
	if err != nil {
		return nil, nil, err
	}

	result, err := p.engine.Resolve(cmd.Context(), name)
	if err != nil {
		return nil, nil, err
	}
	printWarnings(cmd.ErrOrStderr(), result.Warnings)
	return p, result, nil
}

func printWarnings(w io.Writer, warnings []error) {
	for _, warning := range warnings {
		ui.Yellow.Fprintf(w, "⚠ %v\n", warning)
	}
}

func runBuild(cmd *cobra.Command, args []string) error {
	_, result, err := resolveLayer(cmd, args)
	if err != nil {
		return err
	}

	data, err := result.Documents.YAML()
	if err != nil {
		return err
	}

	if buildOutput == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}

	if err := fileutil.WriteFile(buildOutput, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", buildOutput, err)
	}
	ui.Success("Wrote %d document(s) to %s", result.Documents.Len(), buildOutput)
	return nil
}

func runOrder(cmd *cobra.Command, args []string) error {
	_, result, err := resolveLayer(cmd, args)
	if err != nil {
		return err
	}

	plan, err := order.Resolve(result.Documents)
	if err != nil {
		return err
	}
	printPlan(cmd.OutOrStdout(), plan)
	return nil
}

// printPlan lists documents in apply order with their dependencies.
func printPlan(w io.Writer, plan *order.Plan) {
	width := len(fmt.Sprint(len(plan.Order)))
	for i, id := range plan.Order {
		line := fmt.Sprintf("%*d. %s", width, i+1, id)
		if deps := plan.DependsOn(id); len(deps) > 0 {
			names := make([]string, len(deps))
			for j, dep := range deps {
				names[j] = dep.String()
			}
			line += "  <- " + strings.Join(names, ", ")
		}
		fmt.Fprintln(w, line)
	}
}

// docDiff is the difference between two resolved sets.
type docDiff struct {
	Added   []manifest.ID
	Removed []manifest.ID
	// Changed maps a document to its cmp.Diff output.
	Changed map[manifest.ID]string
}

func (d docDiff) empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

func diffSets(from, to *manifest.Set) docDiff {
	d := docDiff{Changed: make(map[manifest.ID]string)}
	for _, doc := range from.Documents() {
		other, ok := to.Get(doc.ID())
		if !ok {
			d.Removed = append(d.Removed, doc.ID())
			continue
		}
		if diff := cmp.Diff(doc.Object, other.Object); diff != "" {
			d.Changed[doc.ID()] = diff
		}
	}
	for _, doc := range to.Documents() {
		if _, ok := from.Get(doc.ID()); !ok {
			d.Added = append(d.Added, doc.ID())
		}
	}
	return d
}

func runDiff(cmd *cobra.Command, args []string) error {
	p, err := loadProject()
	if err != nil {
		return err
	}

	results, err := p.engine.ResolveAll(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}
	from, to := results[args[0]], results[args[1]]
	printWarnings(cmd.ErrOrStderr(), from.Warnings)
	printWarnings(cmd.ErrOrStderr(), to.Warnings)

	d := diffSets(from.Documents, to.Documents)
	out := cmd.OutOrStdout()
	if d.empty() {
		fmt.Fprintf(out, "%s and %s resolve to identical documents\n", args[0], args[1])
		return nil
	}

	for _, id := range d.Removed {
		ui.Red.Fprintf(out, "- %s\n", id)
	}
	for _, id := range d.Added {
		ui.Green.Fprintf(out, "+ %s\n", id)
	}

	changed := make([]manifest.ID, 0, len(d.Changed))
	for id := range d.Changed {
		changed = append(changed, id)
	}
	sort.Slice(changed, func(i, j int) bool { return order.Less(changed[i], changed[j]) })
	for _, id := range changed {
		ui.Yellow.Fprintf(out, "~ %s\n", id)
		fmt.Fprintln(out, d.Changed[id])
	}
	return nil
}
