package data

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadSpecTable(t *testing.T) {
	table, err := LoadSpecTable()
	require.NoError(t, err)
	assert.Equal(t, 16, table.Count(), "8 classes with 2 specs each")
}

func TestSpecLookups(t *testing.T) {
	table, err := LoadSpecTable()
	require.NoError(t, err)

	cases := []struct {
		skillID  uint64
		specName string
		classID  int32
	}{
		{1714, "Iaido", 1},
		{1734, "Iaido", 1},
		{44701, "Moonstrike", 1},
		{179906, "Moonstrike", 1},
		{120901, "Icicle", 2},
		{1241, "Frostbeam", 2},
		{1405, "Vanguard", 4},
		{1419, "Skyward", 4},
		{21402, "Smite", 5},
		{20301, "Lifebind", 5},
		{199902, "Earthfort", 9},
		{1935, "Block", 9},
		{2203622, "Falconry", 11},
		{1700827, "Wildpack", 11},
		{2405, "Recovery", 12},
		{2406, "Shield", 12},
		{2306, "Dissonance", 13},
		{55302, "Concerto", 13},
	}
	for _, c := range cases {
		info, ok := table.Lookup(c.skillID)
		require.True(t, ok, "skill %d", c.skillID)
		assert.Equal(t, c.specName, info.SpecName, "skill %d", c.skillID)
		assert.Equal(t, c.classID, info.ClassID, "skill %d", c.skillID)
	}
}

func TestSpecLookupUnknownSkill(t *testing.T) {
	table, err := LoadSpecTable()
	require.NoError(t, err)
	_, ok := table.Lookup(999999999)
	assert.False(t, ok)
}
