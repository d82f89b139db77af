package shared

// Head identifies the first chunk of an object's chain. The zero Offset is
// never a chunk slot (the track header lives there), so a Head with
// Offset 0 denotes an empty object.
type Head struct {
	Track  uint16
	Offset uint64
}

// Empty reports whether the head denotes an object with no chunks.
func (h Head) Empty() bool {
	return h.Offset == 0
}
