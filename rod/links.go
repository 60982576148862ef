package rod

// Link ties the plus end of Prev to the minus end of Next (pin and
// extend kinds), or their orientations (bend kind).
type Link struct {
	Prev, Next int
}

// TriLink constrains the chord orientation through three rod centers:
// Left - Center - Right.
type TriLink struct {
	Center, Left, Right int
}

// LinkKind discriminates the four link maps.
type LinkKind int

const (
	PinLink LinkKind = iota
	ExtendLink
	BendLink
	TriBendLink
)

// LinkMaps holds the four link multimaps plus their reverse maps. The
// maps are global knowledge: identical on every rank, mutated only by
// collective operations.
type LinkMaps struct {
	Pin            map[int][]int
	PinReverse     map[int][]int
	Extend         map[int][]int
	ExtendReverse  map[int][]int
	Bend           map[int][]int
	BendReverse    map[int][]int
	TriBend        map[int][][2]int
	TriBendReverse map[[2]int][]int
}

// NewLinkMaps returns empty maps.
func NewLinkMaps() *LinkMaps {
	return &LinkMaps{
		Pin:            map[int][]int{},
		PinReverse:     map[int][]int{},
		Extend:         map[int][]int{},
		ExtendReverse:  map[int][]int{},
		Bend:           map[int][]int{},
		BendReverse:    map[int][]int{},
		TriBend:        map[int][][2]int{},
		TriBendReverse: map[[2]int][]int{},
	}
}

// Add inserts a two-body link of the given kind into the forward and
// reverse maps.
func (m *LinkMaps) Add(kind LinkKind, l Link) {
	switch kind {
	case PinLink:
		m.Pin[l.Prev] = append(m.Pin[l.Prev], l.Next)
		m.PinReverse[l.Next] = append(m.PinReverse[l.Next], l.Prev)
	case ExtendLink:
		m.Extend[l.Prev] = append(m.Extend[l.Prev], l.Next)
		m.ExtendReverse[l.Next] = append(m.ExtendReverse[l.Next], l.Prev)
	case BendLink:
		m.Bend[l.Prev] = append(m.Bend[l.Prev], l.Next)
		m.BendReverse[l.Next] = append(m.BendReverse[l.Next], l.Prev)
	}
}

// AddTri inserts a three-body link.
func (m *LinkMaps) AddTri(t TriLink) {
	m.TriBend[t.Center] = append(m.TriBend[t.Center], [2]int{t.Left, t.Right})
	m.TriBendReverse[[2]int{t.Left, t.Right}] =
		append(m.TriBendReverse[[2]int{t.Left, t.Right}], t.Center)
}

// Counts returns the number of links per kind.
func (m *LinkMaps) Counts() (pin, extend, bend, triBend int) {
	for _, v := range m.Pin {
		pin += len(v)
	}
	for _, v := range m.Extend {
		extend += len(v)
	}
	for _, v := range m.Bend {
		bend += len(v)
	}
	for _, v := range m.TriBend {
		triBend += len(v)
	}
	return pin, extend, bend, triBend
}
