package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"assembly-line-sim/internal/graph"
	"assembly-line-sim/internal/types"
)

// layoutDoc layout 命令的输出结构
type layoutDoc struct {
	Entries   []types.StationID   `yaml:"entries"`
	Terminals []types.StationID   `yaml:"terminals"`
	Stations  []types.StationSpec `yaml:"stations"` // 拓扑序
}

func buildLayout(g *graph.Graph) layoutDoc {
	doc := layoutDoc{Entries: g.Entries(), Terminals: g.Terminals()}
	for _, id := range g.Order() {
		spec, _ := g.Spec(id)
		doc.Stations = append(doc.Stations, *spec)
	}
	return doc
}

func newLayoutCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "layout",
		Short: "Print the resolved station graph in topological order as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, g, err := loadChecked(root.configPath)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(buildLayout(g))
		},
	}
}
