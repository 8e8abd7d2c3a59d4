// Package paint turns world geometries into device space paths and
// rasterizes them.
package paint

import (
	"math"

	"geoview/geo"

	"github.com/paulmach/orb"
)

// Defaults of the projector.
const (
	PointRadius     = 3.0
	MarkerThreshold = 2.0
	MarkerWidth     = 3.0
)

//SubPath one figure of a path in pixels
type SubPath struct {
	Points []orb.Point
	Closed bool
	//Radius > 0 marks a circle centred on Points[0]
	Radius float64
}

//Path device space rendition of one geometry
type Path struct {
	Subs []SubPath
	//Fill is set when a sub-path encloses an area
	Fill bool
	//Marker is set when the geometry was too small and replaced by a line
	Marker bool
}

//Vertices every vertex of the path, circles count as their centre
func (p *Path) Vertices() []orb.Point {
	var out []orb.Point
	for _, s := range p.Subs {
		if s.Radius > 0 {
			out = append(out, s.Points[0])
			continue
		}
		pts := s.Points
		if s.Closed && len(pts) > 1 && pts[0] == pts[len(pts)-1] {
			pts = pts[:len(pts)-1]
		}
		out = append(out, pts...)
	}
	return out
}

//Projector maps geometries to paths with a view transform
type Projector struct {
	T geo.Transform
	//PointRadius of point markers in pixels
	PointRadius float64
	//MarkerThreshold geometries whose pixel extent is below it on both axes
	//are drawn as a single line
	MarkerThreshold float64
}

func NewProjector(t geo.Transform) *Projector {
	return &Projector{T: t, PointRadius: PointRadius, MarkerThreshold: MarkerThreshold}
}

//Extent pixel width and height of a geometry's bound
func (p *Projector) Extent(g orb.Geometry) (float64, float64) {
	b := g.Bound()
	return (b.Max[0] - b.Min[0]) / p.T.Scale, (b.Max[1] - b.Min[1]) / p.T.Scale
}

//Project builds the path of g, applying the small geometry marker
func (p *Projector) Project(g orb.Geometry) Path {
	var path Path
	if g == nil {
		return path
	}
	if g.Dimensions() > 0 {
		w, h := p.Extent(g)
		if w < p.MarkerThreshold && h < p.MarkerThreshold {
			b := g.Bound()
			path.Subs = []SubPath{{Points: []orb.Point{p.pt(b.Min), p.pt(b.Max)}}}
			path.Marker = true
			return path
		}
	}
	p.project(g, &path)
	return path
}

//ProjectFull builds the path of g without the small geometry marker
func (p *Projector) ProjectFull(g orb.Geometry) Path {
	var path Path
	if g != nil {
		p.project(g, &path)
	}
	return path
}

func (p *Projector) pt(q orb.Point) orb.Point {
	x, y := p.T.ToPixel(q[0], q[1])
	return orb.Point{x, y}
}

func (p *Projector) line(ls []orb.Point, closed bool) SubPath {
	pts := make([]orb.Point, len(ls))
	for i, q := range ls {
		pts[i] = p.pt(q)
	}
	return SubPath{Points: pts, Closed: closed}
}

func (p *Projector) project(g orb.Geometry, path *Path) {
	switch g := g.(type) {
	case orb.Point:
		path.Subs = append(path.Subs, SubPath{Points: []orb.Point{p.pt(g)}, Radius: p.PointRadius})
	case orb.MultiPoint:
		for _, q := range g {
			p.project(q, path)
		}
	case orb.LineString:
		if len(g) > 1 {
			path.Subs = append(path.Subs, p.line(g, false))
		}
	case orb.MultiLineString:
		for _, ls := range g {
			p.project(ls, path)
		}
	case orb.Ring:
		p.project(orb.Polygon{g}, path)
	case orb.Polygon:
		for _, r := range g {
			if len(r) > 2 {
				path.Subs = append(path.Subs, p.line(r, true))
				path.Fill = true
			}
		}
	case orb.MultiPolygon:
		for _, poly := range g {
			p.project(poly, path)
		}
	case orb.Collection:
		for _, c := range g {
			p.project(c, path)
		}
	case orb.Bound:
		p.project(g.ToPolygon(), path)
	}
}

//Bounds pixel bounding box of the path
func (p *Path) Bounds() orb.Bound {
	b := orb.Bound{Min: orb.Point{math.Inf(1), math.Inf(1)}, Max: orb.Point{math.Inf(-1), math.Inf(-1)}}
	for _, s := range p.Subs {
		for _, q := range s.Points {
			b = b.Extend(orb.Point{q[0] - s.Radius, q[1] - s.Radius}).Extend(orb.Point{q[0] + s.Radius, q[1] + s.Radius})
		}
	}
	return b
}
