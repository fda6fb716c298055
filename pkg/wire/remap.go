package wire

import "maps"

// RemapTable translates legacy wire input codes to logical inputs. Codes
// without an entry map to themselves.
type RemapTable map[int]int

// DefaultRemapTable returns the remap table of the deployed legacy lamps.
func DefaultRemapTable() RemapTable {
	return RemapTable{
		4: 1,
		5: 2,
		3: 3,
	}
}

// Lookup returns the logical input for a wire code.
func (t RemapTable) Lookup(code int) int {
	if input, ok := t[code]; ok {
		return input
	}
	return code
}

// Clone returns a copy of the table.
func (t RemapTable) Clone() RemapTable {
	return maps.Clone(t)
}
