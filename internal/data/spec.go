package data

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed specs.yaml
var specsYAML []byte

// SpecInfo is one resolved spec lookup result.
type SpecInfo struct {
	SpecName  string
	ClassID   int32
	ClassName string
}

// SpecTable maps skill ids to class specs. Entries keep the table's file
// order: when a skill id appears under two specs the earlier one wins.
type SpecTable struct {
	bySkill map[uint64]SpecInfo
	count   int
}

type specEntry struct {
	Name   string   `yaml:"name"`
	Skills []uint64 `yaml:"skills"`
}

type classEntry struct {
	ID    int32       `yaml:"id"`
	Name  string      `yaml:"name"`
	Specs []specEntry `yaml:"specs"`
}

type specFile struct {
	Classes []classEntry `yaml:"classes"`
}

// LoadSpecTable parses the embedded spec table.
func LoadSpecTable() (*SpecTable, error) {
	var file specFile
	if err := yaml.Unmarshal(specsYAML, &file); err != nil {
		return nil, fmt.Errorf("parse spec table: %w", err)
	}

	t := &SpecTable{bySkill: make(map[uint64]SpecInfo)}
	for _, class := range file.Classes {
		for _, spec := range class.Specs {
			t.count++
			for _, skill := range spec.Skills {
				if _, exists := t.bySkill[skill]; exists {
					continue // first entry in table order wins
				}
				t.bySkill[skill] = SpecInfo{
					SpecName:  spec.Name,
					ClassID:   class.ID,
					ClassName: class.Name,
				}
			}
		}
	}
	return t, nil
}

// Lookup resolves a skill id to the spec it belongs to.
func (t *SpecTable) Lookup(skillID uint64) (SpecInfo, bool) {
	info, ok := t.bySkill[skillID]
	return info, ok
}

// Count returns the number of specs in the table.
func (t *SpecTable) Count() int {
	return t.count
}
