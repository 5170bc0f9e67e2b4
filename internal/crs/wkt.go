package crs

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/couchcryptid/precip-station-service/internal/domain"
)

// ParseWKT interprets the WKT (version 1 or 2) found in a shapefile .prj.
// An EPSG identifier on the root wins; otherwise Transverse Mercator and
// Web Mercator definitions are built from their parameters and any
// geographic system is taken as WGS84.
func ParseWKT(text string) (CRS, error) {
	root, err := parseWKTNode(text)
	if err != nil {
		return CRS{}, &domain.UnsupportedCRSError{Detail: err.Error()}
	}

	if n, ok := root.epsg(); ok {
		if c, ok := lookupEPSG(n); ok {
			return c, nil
		}
	}

	switch root.keyword {
	case "GEOGCS", "GEOGCRS", "GEODCRS", "GEOGRAPHICCRS":
		return CRS{Name: root.name(), proj: geographic{}}, nil
	case "PROJCS", "PROJCRS", "PROJECTEDCRS":
		return projectedFromWKT(root)
	default:
		return CRS{}, &domain.UnsupportedCRSError{Detail: root.keyword}
	}
}

func projectedFromWKT(root *wktNode) (CRS, error) {
	method := ""
	if p := root.find("PROJECTION", "METHOD"); p != nil {
		method = normalizeWKTName(p.name())
	}

	var proj projection
	switch {
	case method == "transversemercator" || method == "gausskruger":
		params := root.parameters()
		el := wgs84Ellipsoid
		if s := root.find("SPHEROID", "ELLIPSOID"); s != nil && len(s.values) >= 3 {
			a, errA := strconv.ParseFloat(s.values[1], 64)
			invF, errF := strconv.ParseFloat(s.values[2], 64)
			if errA == nil && errF == nil && a > 0 && invF > 0 {
				el = ellipsoid{a: a, invF: invF}
			}
		}
		lat0 := params.get(0, "latitudeoforigin", "latitudeofnaturalorigin")
		lon0 := params.get(0, "centralmeridian", "longitudeofnaturalorigin", "longitudeoforigin")
		k0 := params.get(1, "scalefactor", "scalefactoratnaturalorigin")
		fe := params.get(0, "falseeasting")
		fn := params.get(0, "falsenorthing")
		if err := checkTMParameters(lat0, lon0, k0, fe, fn); err != nil {
			return CRS{}, &domain.UnsupportedCRSError{Detail: fmt.Sprintf("%s: %v", root.name(), err)}
		}
		proj = newTransverseMercator(el, lat0, lon0, k0, fe, fn)
	case strings.Contains(method, "auxiliarysphere") || strings.Contains(method, "pseudomercator") ||
		strings.Contains(method, "popularvisualisation"):
		proj = webMercator()
	default:
		return CRS{}, &domain.UnsupportedCRSError{Detail: fmt.Sprintf("%s projection %q", root.name(), method)}
	}

	if u := root.child("UNIT", "LENGTHUNIT"); u != nil && len(u.values) >= 2 {
		if f, err := strconv.ParseFloat(u.values[1], 64); err == nil && f > 0 && f != 1 && !math.IsInf(f, 1) {
			proj = scaled{inner: proj, metres: f}
		}
	}

	return CRS{Name: root.name(), proj: proj}, nil
}

func checkTMParameters(lat0, lon0, k0, fe, fn float64) error {
	for _, v := range []float64{lat0, lon0, k0, fe, fn} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.New("non-finite projection parameter")
		}
	}
	switch {
	case k0 <= 0:
		return fmt.Errorf("scale factor %g must be positive", k0)
	case math.Abs(lat0) > 90:
		return fmt.Errorf("latitude of origin %g out of range", lat0)
	case math.Abs(lon0) > 180:
		return fmt.Errorf("central meridian %g out of range", lon0)
	}
	return nil
}

// wktNode is one KEYWORD[...] element. Quoted strings, numbers and bare
// enumerations land in values; nested elements in children.
type wktNode struct {
	keyword  string
	values   []string
	children []*wktNode
}

func (n *wktNode) name() string {
	if len(n.values) == 0 {
		return ""
	}
	return n.values[0]
}

// child returns the first direct child with one of the keywords.
func (n *wktNode) child(keywords ...string) *wktNode {
	for _, c := range n.children {
		for _, k := range keywords {
			if c.keyword == k {
				return c
			}
		}
	}
	return nil
}

// find returns the first descendant, depth first, with one of the keywords.
func (n *wktNode) find(keywords ...string) *wktNode {
	if c := n.child(keywords...); c != nil {
		return c
	}
	for _, c := range n.children {
		if d := c.find(keywords...); d != nil {
			return d
		}
	}
	return nil
}

func (n *wktNode) epsg() (int, bool) {
	id := n.child("AUTHORITY", "ID")
	if id == nil || len(id.values) < 2 || !strings.EqualFold(id.values[0], "EPSG") {
		return 0, false
	}
	code, err := strconv.Atoi(id.values[1])
	if err != nil {
		return 0, false
	}
	return code, true
}

type wktParams map[string]float64

func (n *wktNode) parameters() wktParams {
	out := make(wktParams)
	var walk func(*wktNode)
	walk = func(node *wktNode) {
		for _, c := range node.children {
			if c.keyword == "PARAMETER" && len(c.values) >= 2 {
				if v, err := strconv.ParseFloat(c.values[1], 64); err == nil {
					out[normalizeWKTName(c.values[0])] = v
				}
			}
			if c.keyword != "GEOGCS" && c.keyword != "BASEGEOGCRS" {
				walk(c)
			}
		}
	}
	walk(n)
	return out
}

func (p wktParams) get(def float64, names ...string) float64 {
	for _, name := range names {
		if v, ok := p[name]; ok {
			return v
		}
	}
	return def
}

func normalizeWKTName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

type wktParser struct {
	s   string
	pos int
}

func parseWKTNode(text string) (*wktNode, error) {
	p := &wktParser{s: strings.TrimSpace(strings.TrimPrefix(text, "\ufeff"))}
	if p.s == "" {
		return nil, errors.New("empty WKT")
	}
	n, err := p.node()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.s) {
		return nil, fmt.Errorf("trailing WKT at offset %d", p.pos)
	}
	return n, nil
}

func (p *wktParser) node() (*wktNode, error) {
	p.skipSpace()
	kw := p.ident()
	if kw == "" {
		return nil, fmt.Errorf("expected WKT keyword at offset %d", p.pos)
	}
	p.skipSpace()
	if p.pos >= len(p.s) || (p.s[p.pos] != '[' && p.s[p.pos] != '(') {
		return nil, fmt.Errorf("expected '[' after %s", kw)
	}
	closer := byte(']')
	if p.s[p.pos] == '(' {
		closer = ')'
	}
	p.pos++

	n := &wktNode{keyword: strings.ToUpper(kw)}
	for {
		p.skipSpace()
		if p.pos >= len(p.s) {
			return nil, fmt.Errorf("unterminated %s", n.keyword)
		}
		c := p.s[p.pos]
		switch {
		case c == closer:
			p.pos++
			return n, nil
		case c == ',':
			p.pos++
		case c == '"':
			v, err := p.quoted()
			if err != nil {
				return nil, err
			}
			n.values = append(n.values, v)
		case isIdentByte(c) && !isNumberStart(c):
			start := p.pos
			word := p.ident()
			p.skipSpace()
			if p.pos < len(p.s) && (p.s[p.pos] == '[' || p.s[p.pos] == '(') {
				p.pos = start
				child, err := p.node()
				if err != nil {
					return nil, err
				}
				n.children = append(n.children, child)
			} else {
				n.values = append(n.values, word)
			}
		default:
			start := p.pos
			for p.pos < len(p.s) && p.s[p.pos] != ',' && p.s[p.pos] != closer && !isSpace(p.s[p.pos]) {
				p.pos++
			}
			if p.pos == start {
				return nil, fmt.Errorf("unexpected %q at offset %d", c, p.pos)
			}
			n.values = append(n.values, p.s[start:p.pos])
		}
	}
}

func (p *wktParser) ident() string {
	start := p.pos
	for p.pos < len(p.s) && isIdentByte(p.s[p.pos]) {
		p.pos++
	}
	return p.s[start:p.pos]
}

// quoted reads a double-quoted string; "" inside it is an escaped quote.
func (p *wktParser) quoted() (string, error) {
	p.pos++
	var b strings.Builder
	for p.pos < len(p.s) {
		c := p.s[p.pos]
		p.pos++
		if c != '"' {
			b.WriteByte(c)
			continue
		}
		if p.pos < len(p.s) && p.s[p.pos] == '"' {
			b.WriteByte('"')
			p.pos++
			continue
		}
		return b.String(), nil
	}
	return "", errors.New("unterminated string")
}

func (p *wktParser) skipSpace() {
	for p.pos < len(p.s) && isSpace(p.s[p.pos]) {
		p.pos++
	}
}

func isSpace(c byte) bool { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isNumberStart(c byte) bool { return (c >= '0' && c <= '9') || c == '-' || c == '+' || c == '.' }
