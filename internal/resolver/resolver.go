// Package resolver maps the container's fixed weight roles onto whatever
// names a source model actually uses. Each role carries an ordered list of
// candidate name patterns, tried in sequence, so new architectures are a
// table entry away instead of a code change.
package resolver

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/samcharles93/wtnt/internal/source"
	"github.com/samcharles93/wtnt/pkg/wtnt"
)

// layerPlaceholder is substituted with the layer index in role patterns.
const layerPlaceholder = "{layer}"

// Table holds ordered candidate-name patterns per weight role and for the
// two embedding tables. Earlier patterns win.
type Table struct {
	TokenEmbedding    []string            `yaml:"token_embedding"`
	PositionEmbedding []string            `yaml:"position_embedding"`
	Roles             map[string][]string `yaml:"roles"`
}

// Default returns the built-in table covering the naming conventions of
// plain "layers.N" models, HF-style "blocks.N" models and GPT-2 style
// "transformer.h.N" checkpoints.
func Default() *Table {
	return &Table{
		TokenEmbedding: []string{
			"token_embeddings",
			"embeddings.word_embeddings.weight",
			"wte.weight",
		},
		PositionEmbedding: []string{
			"position_embeddings",
			"embeddings.position_embeddings.weight",
			"wpe.weight",
		},
		Roles: map[string][]string{
			wtnt.RoleQuery.String(): {
				"layers.{layer}.attention.query.weight",
				"blocks.{layer}.attn.q_proj.weight",
				"transformer.h.{layer}.attn.c_attn.weight",
			},
			wtnt.RoleKey.String(): {
				"layers.{layer}.attention.key.weight",
				"blocks.{layer}.attn.k_proj.weight",
			},
			wtnt.RoleValue.String(): {
				"layers.{layer}.attention.value.weight",
				"blocks.{layer}.attn.v_proj.weight",
			},
			wtnt.RoleOutput.String(): {
				"layers.{layer}.attention.output.weight",
				"blocks.{layer}.attn.o_proj.weight",
				"transformer.h.{layer}.attn.c_proj.weight",
			},
			wtnt.RoleFFNUp.String(): {
				"layers.{layer}.ffn.up.weight",
				"blocks.{layer}.mlp.up_proj.weight",
				"transformer.h.{layer}.mlp.c_fc.weight",
			},
			wtnt.RoleFFNDown.String(): {
				"layers.{layer}.ffn.down.weight",
				"blocks.{layer}.mlp.down_proj.weight",
				"transformer.h.{layer}.mlp.c_proj.weight",
			},
		},
	}
}

// Load reads a resolver table from a YAML file. Unknown role keys are
// rejected; roles missing from the file keep no patterns, which makes every
// lookup for them miss (and the converter zero-fill).
func Load(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var t Table
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("resolver table %s: %w", path, err)
	}
	known := make(map[string]struct{}, wtnt.NumRoles)
	for r := wtnt.Role(0); r < wtnt.NumRoles; r++ {
		known[r.String()] = struct{}{}
	}
	for role := range t.Roles {
		if _, ok := known[role]; !ok {
			return nil, fmt.Errorf("resolver table %s: unknown role %q", path, role)
		}
	}
	return &t, nil
}

// ResolveRole returns the first candidate name present in the source for
// the given layer and role.
func (t *Table) ResolveRole(src source.Source, layer int, role wtnt.Role) (string, bool) {
	idx := strconv.Itoa(layer)
	for _, pattern := range t.Roles[role.String()] {
		name := strings.ReplaceAll(pattern, layerPlaceholder, idx)
		if src.Has(name) {
			return name, true
		}
	}
	return "", false
}

// ResolveTokenEmbedding returns the token-embedding tensor name, if any.
func (t *Table) ResolveTokenEmbedding(src source.Source) (string, bool) {
	return firstPresent(src, t.TokenEmbedding)
}

// ResolvePositionEmbedding returns the position-embedding tensor name, if any.
func (t *Table) ResolvePositionEmbedding(src source.Source) (string, bool) {
	return firstPresent(src, t.PositionEmbedding)
}

func firstPresent(src source.Source, candidates []string) (string, bool) {
	for _, name := range candidates {
		if src.Has(name) {
			return name, true
		}
	}
	return "", false
}
