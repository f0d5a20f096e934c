package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/vgraph/internal/config"
	"github.com/roach88/vgraph/internal/dictionary"
)

// DictionaryResult lists the compiled types of a dictionary.
type DictionaryResult struct {
	Nodes []dictionary.NodeType `json:"nodes"`
	Edges []dictionary.EdgeType `json:"edges"`
}

// NewDictionaryCommand creates the dictionary command.
func NewDictionaryCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "dictionary",
		Short: "Compile the dictionary and list its types",
		Long: `Compile the CUE dictionary and print its node and edge types.

No database is opened; use this to check a dictionary before running
init against it.

Example:
  vgraph dictionary --dictionary ./dictionary
  vgraph dictionary --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDictionary(rootOpts, cmd)
		},
	}
}

func runDictionary(opts *RootOptions, cmd *cobra.Command) error {
	formatter := newFormatter(cmd, opts)

	dict, cfg, err := loadDictionary(opts)
	if err != nil {
		return formatter.Fail("failed to load dictionary", err)
	}
	formatter.VerboseLog("Dictionary: %s", cfg.Dictionary.Dir)

	result := DictionaryResult{}
	for _, label := range dict.NodeLabels() {
		nt, _ := dict.NodeType(label)
		result.Nodes = append(result.Nodes, *nt)
	}
	for _, name := range dict.EdgeNames() {
		et, _ := dict.EdgeType(name)
		result.Edges = append(result.Edges, *et)
	}

	return formatter.Emit(result, func(w io.Writer) {
		fmt.Fprintf(w, "✓ Compiled %d node type(s), %d edge type(s)\n\n", len(result.Nodes), len(result.Edges))
		if len(result.Nodes) > 0 {
			fmt.Fprintln(w, "Nodes:")
			for _, nt := range result.Nodes {
				fmt.Fprintf(w, "  %s -> %s  %s\n", nt.Label, dictionary.NodeTable(nt.Label), propertyList(nt.Properties))
			}
			fmt.Fprintln(w)
		}
		if len(result.Edges) > 0 {
			fmt.Fprintln(w, "Edges:")
			for _, et := range result.Edges {
				fmt.Fprintf(w, "  %s: %s -[%s]-> %s  %s\n", et.Name, et.Src, et.Label, et.Dst, propertyList(et.Properties))
			}
			fmt.Fprintln(w)
		}
	})
}

// loadDictionary compiles the configured dictionary without opening a
// database.
func loadDictionary(opts *RootOptions) (*dictionary.Dictionary, config.Config, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, config.Config{}, err
	}
	dict, err := dictionary.LoadDir(cfg.Dictionary.Dir)
	if err != nil {
		return nil, cfg, err
	}
	return dict, cfg, nil
}

// propertyList renders specs as "{a: string!, b: int}"; "!" marks required.
func propertyList(specs []dictionary.PropertySpec) string {
	parts := make([]string, len(specs))
	for i, p := range specs {
		parts[i] = p.Name + ": " + p.Kind
		if p.Required {
			parts[i] += "!"
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}
