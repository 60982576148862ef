package rod

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"sort"
	"strings"

	"github.com/sylsim/sylsim/geom"
)

// The ASCII .dat snapshot holds a count line, a time line, one rod per
// line, then the link lines:
//
//	C <gid> <radius> <mx> <my> <mz> <px> <py> <pz> <group>
//	S ... (immovable rod)
//	P <i> <j>   pin link
//	E <i> <j>   extend link
//	B <i> <j>   bend link
//	T <i> <j> <k>  tri-bend link

// WriteDat writes rods and links in snapshot format. Rods are written
// in the order given.
func WriteDat(w io.Writer, rods []Rod, links *LinkMaps, time float64) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d\n", len(rods))
	fmt.Fprintf(bw, "%g\n", time)
	for i := range rods {
		r := &rods[i]
		minus, plus := r.Ends()
		tag := "C"
		if r.IsImmovable {
			tag = "S"
		}
		fmt.Fprintf(bw, "%s %d %.17g %.17g %.17g %.17g %.17g %.17g %.17g %d\n",
			tag, r.Gid, r.Radius,
			minus[0], minus[1], minus[2],
			plus[0], plus[1], plus[2], r.Group)
	}
	if links != nil {
		writeLinks(bw, links)
	}
	return bw.Flush()
}

func writeLinks(w io.Writer, links *LinkMaps) {
	two := func(tag string, m map[int][]int) {
		keys := make([]int, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		for _, i := range keys {
			for _, j := range m[i] {
				fmt.Fprintf(w, "%s %d %d\n", tag, i, j)
			}
		}
	}
	two("P", links.Pin)
	two("E", links.Extend)
	two("B", links.Bend)

	keys := make([]int, 0, len(links.TriBend))
	for k := range links.TriBend {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, i := range keys {
		for _, jk := range links.TriBend[i] {
			fmt.Fprintf(w, "T %d %d %d\n", i, jk[0], jk[1])
		}
	}
}

// ReadDat parses a snapshot. The two header lines are skipped; rod and
// link lines may interleave, matching files written by hand.
func ReadDat(r io.Reader) ([]Rod, *LinkMaps, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 1<<20), 1<<20)

	// header lines
	for i := 0; i < 2 && sc.Scan(); i++ {
	}

	var rods []Rod
	links := NewLinkMaps()
	lineNo := 2
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var err error
		switch line[0] {
		case 'C', 'S':
			var rd Rod
			rd, err = parseRodLine(line)
			if err == nil {
				rods = append(rods, rd)
			}
		case 'P':
			err = parseTwoLink(line, links, PinLink)
		case 'E':
			err = parseTwoLink(line, links, ExtendLink)
		case 'B':
			err = parseTwoLink(line, links, BendLink)
		case 'T':
			var t TriLink
			if _, err = fmt.Sscanf(line, "T %d %d %d", &t.Center, &t.Left, &t.Right); err == nil {
				links.AddTri(t)
			}
		default:
			// unknown record types are skipped, like the reference reader
		}
		if err != nil {
			return nil, nil, fmt.Errorf("rod: line %d: %w", lineNo, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("rod: %w", err)
	}
	return rods, links, nil
}

func parseTwoLink(line string, links *LinkMaps, kind LinkKind) error {
	var tag string
	var l Link
	if _, err := fmt.Sscanf(line, "%s %d %d", &tag, &l.Prev, &l.Next); err != nil {
		return err
	}
	links.Add(kind, l)
	return nil
}

func parseRodLine(line string) (Rod, error) {
	var (
		tag                    string
		gid, group             int
		radius                 float64
		mx, my, mz, px, py, pz float64
	)
	_, err := fmt.Sscanf(line, "%s %d %g %g %g %g %g %g %g %d",
		&tag, &gid, &radius, &mx, &my, &mz, &px, &py, &pz, &group)
	if err != nil {
		return Rod{}, err
	}

	r := Rod{
		Gid:         gid,
		Group:       group,
		IsImmovable: tag == "S",
		Radius:      radius,
	}
	r.RadiusCollision = radius
	r.Pos = geom.Vec{(mx + px) / 2, (my + py) / 2, (mz + pz) / 2}
	d := geom.Vec{px - mx, py - my, pz - mz}
	r.Length = d.Norm()
	r.LengthCollision = r.Length
	if r.Length > 1e-7 {
		r.Orientation = geom.QuatFromTwoVectors(geom.Vec{0, 0, 1}, d)
	} else {
		r.Orientation = geom.QuatIdentity
	}
	if math.IsNaN(r.Length) {
		return Rod{}, fmt.Errorf("invalid endpoints in %q", line)
	}
	return r, nil
}
