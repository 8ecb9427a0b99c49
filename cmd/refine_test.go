package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quadPairYAML = `
Title: two quads
MaxLevel: 3
Nodes:
  - [0, 0, 0]
  - [1, 0, 0]
  - [1, 1, 0]
  - [0, 1, 0]
  - [2, 0, 0]
  - [2, 1, 0]
Elements:
  - Type: Quad4
    Nodes: [0, 1, 2, 3]
  - Type: Quad4
    Nodes: [1, 4, 5, 2]
    Partition: 0
`

func TestMeshInputParse(t *testing.T) {
	var input MeshInput
	require.NoError(t, input.Parse([]byte(quadPairYAML)))
	assert.Equal(t, "two quads", input.Title)
	assert.Equal(t, 3, input.MaxLevel)
	assert.Len(t, input.Nodes, 6)
	require.Len(t, input.Elements, 2)
	assert.Equal(t, "Quad4", input.Elements[0].Type)
	assert.Equal(t, []int{1, 4, 5, 2}, input.Elements[1].Nodes)

	assert.Error(t, input.Parse([]byte("Nodes: notalist")))
}

func TestRunRefine(t *testing.T) {
	meshFile := filepath.Join(t.TempDir(), "quads.yaml")
	require.NoError(t, os.WriteFile(meshFile, []byte(quadPairYAML), 0644))

	require.NoError(t, runRefine(meshFile, 2, 1, 1, false))

	err := runRefine(filepath.Join(t.TempDir(), "missing.yaml"), 1, 1, 1, false)
	assert.Error(t, err)
}

func TestRunRefineBadElementType(t *testing.T) {
	bad := `
Nodes:
  - [0, 0, 0]
  - [1, 0, 0]
Elements:
  - Type: Hex27
    Nodes: [0, 1]
`
	meshFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(meshFile, []byte(bad), 0644))
	assert.Error(t, runRefine(meshFile, 1, 1, 1, false))
}
