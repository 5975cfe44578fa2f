package party

import (
	"io"
	"sort"
	"strings"
)

// IDSlice is a sorted list of distinct IDs.
type IDSlice []ID

// NewIDSlice returns a sorted copy of partyIDs.
func NewIDSlice(partyIDs []ID) IDSlice {
	ids := IDSlice(partyIDs).Copy()
	ids.sort()
	return ids
}

// Contains returns true if partyIDs contains all of ids.
func (partyIDs IDSlice) Contains(ids ...ID) bool {
	for _, id := range ids {
		if _, found := partyIDs.search(id); !found {
			return false
		}
	}
	return true
}

// GetIndex returns the index of id in partyIDs, or -1 if it is absent.
func (partyIDs IDSlice) GetIndex(id ID) int {
	if idx, ok := partyIDs.search(id); ok {
		return idx
	}
	return -1
}

// Valid returns true if the IDs are sorted, distinct and non-zero.
func (partyIDs IDSlice) Valid() bool {
	for i := range partyIDs {
		if partyIDs[i] == 0 {
			return false
		}
		if i > 0 && partyIDs[i-1] >= partyIDs[i] {
			return false
		}
	}
	return true
}

// Copy returns an identical copy of the receiver.
func (partyIDs IDSlice) Copy() IDSlice {
	a := make(IDSlice, len(partyIDs))
	copy(a, partyIDs)
	return a
}

// Remove returns a new sorted IDSlice with all of ids removed.
func (partyIDs IDSlice) Remove(ids ...ID) IDSlice {
	removed := NewIDSlice(ids)
	out := make(IDSlice, 0, len(partyIDs))
	for _, id := range partyIDs {
		if !removed.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}

// Equal returns true if both slices contain the same IDs.
func (partyIDs IDSlice) Equal(other IDSlice) bool {
	if len(partyIDs) != len(other) {
		return false
	}
	for i := range partyIDs {
		if partyIDs[i] != other[i] {
			return false
		}
	}
	return true
}

func (partyIDs IDSlice) search(x ID) (int, bool) {
	index := sort.Search(len(partyIDs), func(i int) bool { return partyIDs[i] >= x })
	if index >= 0 && index < len(partyIDs) && partyIDs[index] == x {
		return index, true
	}
	return 0, false
}

func (partyIDs IDSlice) Len() int           { return len(partyIDs) }
func (partyIDs IDSlice) Less(i, j int) bool { return partyIDs[i] < partyIDs[j] }
func (partyIDs IDSlice) Swap(i, j int)      { partyIDs[i], partyIDs[j] = partyIDs[j], partyIDs[i] }

func (partyIDs IDSlice) sort() { sort.Sort(partyIDs) }

// WriteTo implements io.WriterTo interface.
func (partyIDs IDSlice) WriteTo(w io.Writer) (int64, error) {
	if partyIDs == nil {
		return 0, io.ErrUnexpectedEOF
	}
	nAll := int64(0)
	for _, id := range partyIDs {
		n, err := id.WriteTo(w)
		nAll += n
		if err != nil {
			return nAll, err
		}
	}
	return nAll, nil
}

// Domain implements hash.WriterToWithDomain, and separates this type within hash.Hash.
func (IDSlice) Domain() string {
	return "IDSlice"
}

func (partyIDs IDSlice) String() string {
	ss := make([]string, 0, len(partyIDs))
	for _, id := range partyIDs {
		ss = append(ss, id.String())
	}
	return strings.Join(ss, ", ")
}
