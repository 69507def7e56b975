// Package wtnt implements the WTNT weight-container format.
//
// WTNT is a single-file container for INT4-quantized transformer weights,
// built for loaders on resource-constrained targets: a fixed header,
// half-precision embedding tables, six quantized weight blocks per layer in
// a fixed role order, and a trailing checksum index the header points at so
// integrity can be verified without re-reading the payload. The byte layout
// is part of the contract; identical input always produces identical files.
package wtnt

import "fmt"

// WTNT global constants must never change.
const (
	// MagicWTNT is the file magic for all WTNT containers, "WTNT" in ASCII.
	MagicWTNT = "WTNT"

	// CurrentVersion: any change indicates a breaking format change.
	CurrentVersion uint32 = 1
)

// Role identifies one of the six fixed per-layer weight slots.
type Role uint8

const (
	RoleQuery Role = iota
	RoleKey
	RoleValue
	RoleOutput
	RoleFFNUp
	RoleFFNDown

	// NumRoles is the number of weight blocks written per layer.
	NumRoles = 6
)

// Role names double as checksum-index section name components. They are
// on-disk identifiers and must never change.
var roleNames = [NumRoles]string{
	"q_weights",
	"k_weights",
	"v_weights",
	"o_weights",
	"ffn_up",
	"ffn_down",
}

func (r Role) String() string {
	if int(r) < len(roleNames) {
		return roleNames[r]
	}
	return fmt.Sprintf("role(%d)", uint8(r))
}

// Checksum-index section names for the two embedding tables.
const (
	SectionTokenEmbeddings    = "embeddings"
	SectionPositionEmbeddings = "pos_embeddings"
)

// SectionName returns the checksum-index name for a layer/role block,
// eg "layer_0_q_weights".
func SectionName(layer int, r Role) string {
	return fmt.Sprintf("layer_%d_%s", layer, r)
}
