package cmd

import (
	"fmt"
	"os"

	"github.com/ghodss/yaml"
	"github.com/pkg/profile"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/notargets/gamr/celltype"
	"github.com/notargets/gamr/constraint"
	"github.com/notargets/gamr/dof"
	"github.com/notargets/gamr/mesh"
	"github.com/notargets/gamr/partitions"
)

// MeshInput describes an initial element/node set in YAML form.
type MeshInput struct {
	Title    string         `yaml:"Title"`
	MaxLevel int            `yaml:"MaxLevel"`
	Nodes    [][3]float64   `yaml:"Nodes"`
	Elements []ElementInput `yaml:"Elements"`
}

// ElementInput is one root element of the input mesh.
type ElementInput struct {
	Type      string `yaml:"Type"`
	Nodes     []int  `yaml:"Nodes"`
	Partition int    `yaml:"Partition"`
}

// Parse fills the input from YAML data.
func (mi *MeshInput) Parse(data []byte) error {
	return yaml.Unmarshal(data, mi)
}

// refineCmd represents the refine command
var refineCmd = &cobra.Command{
	Use:   "refine",
	Short: "Uniformly refine a mesh and report constraint and dof statistics",
	Long: `
Reads an initial mesh from a YAML file, applies the requested number of
uniform refinement sweeps, builds the hanging node constraint table and the
dof numbering, and prints the resulting statistics.`,
	Run: func(cmd *cobra.Command, args []string) {
		meshFile, _ := cmd.Flags().GetString("mesh")
		levels, _ := cmd.Flags().GetInt("levels")
		nparts, _ := cmd.Flags().GetInt("nparts")
		nodeVars, _ := cmd.Flags().GetInt("vars")
		prof, _ := cmd.Flags().GetBool("profile")
		verbose, _ := cmd.Flags().GetBool("verbose")

		if prof {
			defer profile.Start().Stop()
		}
		if err := runRefine(meshFile, levels, nparts, nodeVars, verbose); err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(refineCmd)
	refineCmd.Flags().StringP("mesh", "m", "", "YAML mesh description file")
	refineCmd.Flags().IntP("levels", "l", 1, "number of uniform refinement sweeps")
	refineCmd.Flags().IntP("nparts", "p", 1, "repartition the refined mesh into this many parts")
	refineCmd.Flags().Int("vars", 1, "unknowns per node")
	refineCmd.Flags().Bool("profile", false, "write a CPU profile")
	refineCmd.Flags().BoolP("verbose", "v", false, "debug logging of refinement passes")
	_ = refineCmd.MarkFlagRequired("mesh")
}

func runRefine(meshFile string, levels, nparts, nodeVars int, verbose bool) error {
	data, err := os.ReadFile(meshFile)
	if err != nil {
		return err
	}
	var input MeshInput
	if err := input.Parse(data); err != nil {
		return fmt.Errorf("parsing %s: %w", meshFile, err)
	}

	log := zap.NewNop()
	if verbose {
		if log, err = zap.NewDevelopment(); err != nil {
			return err
		}
		defer log.Sync()
	}

	maxLevel := input.MaxLevel
	if maxLevel == 0 {
		maxLevel = levels + 1
	}
	m := mesh.NewMesh(mesh.Config{MaxLevel: maxLevel, Log: log})
	for _, xyz := range input.Nodes {
		m.AddNode(xyz[0], xyz[1], xyz[2])
	}
	for _, ei := range input.Elements {
		ct, err := celltype.Parse(ei.Type)
		if err != nil {
			return err
		}
		conn := make([]mesh.NodeID, len(ei.Nodes))
		for i, n := range ei.Nodes {
			conn[i] = mesh.NodeID(n)
		}
		if _, err := m.AddElement(ct, conn, ei.Partition); err != nil {
			return err
		}
	}

	fmt.Printf("\"%s\"\t= Title\n", input.Title)
	fmt.Printf("%8d\t= Root elements\n", len(input.Elements))
	fmt.Printf("%8d\t= Root nodes\n", len(input.Nodes))

	for sweep := 0; sweep < levels; sweep++ {
		for _, id := range m.ActiveElements() {
			if err := m.Refine(id); err != nil {
				return err
			}
		}
	}
	active := m.ActiveElements()
	fmt.Printf("%8d\t= Active elements after %d sweeps\n", len(active), levels)

	if nparts > 1 {
		layout, err := partitions.Rebalance(m, partitions.DefaultRebalanceConfig(int32(nparts)))
		if err != nil {
			return err
		}
		if err := layout.Apply(m); err != nil {
			return err
		}
		stats := layout.Statistics()
		fmt.Printf("%8d\t= Partitions (imbalance %.3f)\n", stats.NumPartitions, stats.Imbalance)
	}

	builder := constraint.NewBuilder(m)
	builder.Log = log
	tbl, err := builder.Build()
	if err != nil {
		return err
	}
	fmt.Printf("%8d\t= Hanging node constraints\n", tbl.Len())

	ix := dof.NewIndexer(m)
	ix.Log = log
	num, err := ix.Build(dof.VarLayout{NodeVars: nodeVars}, tbl)
	if err != nil {
		return err
	}
	ranks, offsets := num.Offsets()
	fmt.Printf("%8d\t= Free unknowns\n", num.NumFree())
	for i, r := range ranks {
		fmt.Printf("\tpartition %d: dofs [%d,%d)\n", r, offsets[i], offsets[i+1])
	}
	return nil
}
