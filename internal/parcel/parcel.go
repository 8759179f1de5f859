// Package parcel builds the titles-with-owners layer and assigns merged
// parcel polygons to point locations.
package parcel

import (
	"errors"

	"github.com/paulmach/orb"
	"github.com/tidwall/rtree"

	"github.com/nz-facilities/internal/geometry"
)

// ErrNotLoaded is returned when a merge is attempted before any parcels have
// been loaded into the set.
var ErrNotLoaded = errors.New("parcel set has not been loaded")

// Title is one land-title polygon as read from the NZ Property Titles layer.
type Title struct {
	// ID is the title's feature id in the source layer.
	ID      int
	TitleNo string
	Geom    orb.Polygon
}

// Owner is one ownership record for a title. Corporate owners and individual
// owners standardise differently, so the flag is kept alongside the name.
type Owner struct {
	Name      string
	Corporate bool
}

// Parcel is one title polygon paired with one of its owners. A title with
// several owners appears once per owner, all sharing the title's id, which is
// how the merge algorithm treats multi-owner titles as a single unit.
type Parcel struct {
	// TitleID is the source title's feature id, shared by every owner row
	// of the same title.
	TitleID  int
	TitleNo  string
	Owner    string
	StdOwner string
	Geom     orb.Polygon
}

// Set is an immutable, spatially indexed collection of parcels. Build it once
// per run with BuildTitlesWithOwners; the merge algorithm only reads it.
type Set struct {
	parcels []*Parcel
	index   rtree.RTreeG[*Parcel]
}

// BuildTitlesWithOwners joins the titles layer to the owners table on title
// number. Titles without an ownership record are kept with an empty owner so
// their geometry still participates in seed intersection; empty owners never
// enter a merge's owner set.
func BuildTitlesWithOwners(titles []Title, owners map[string][]Owner, standardise bool) *Set {
	s := &Set{}
	for i := range titles {
		t := &titles[i]
		rows := owners[t.TitleNo]
		if len(rows) == 0 {
			s.insert(&Parcel{TitleID: t.ID, TitleNo: t.TitleNo, Geom: t.Geom})
			continue
		}
		for _, o := range rows {
			p := &Parcel{TitleID: t.ID, TitleNo: t.TitleNo, Owner: o.Name, Geom: t.Geom}
			if standardise {
				p.StdOwner = standardiseOwner(o)
			}
			s.insert(p)
		}
	}
	return s
}

func (s *Set) insert(p *Parcel) {
	s.parcels = append(s.parcels, p)
	b := p.Geom.Bound()
	s.index.Insert([2]float64{b.Min[0], b.Min[1]}, [2]float64{b.Max[0], b.Max[1]}, p)
}

// Parcels returns the parcel rows in insertion order, for saving the joined
// layer.
func (s *Set) Parcels() []*Parcel {
	return s.parcels
}

// Len returns the number of parcel rows in the set.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.parcels)
}

// intersecting returns the parcels whose polygon contains the point,
// bounding-box candidates first, then refined to true intersection.
func (s *Set) intersecting(pt orb.Point) []*Parcel {
	var candidates []*Parcel
	s.index.Search([2]float64{pt[0], pt[1]}, [2]float64{pt[0], pt[1]},
		func(min, max [2]float64, p *Parcel) bool {
			candidates = append(candidates, p)
			return true
		})
	var matched []*Parcel
	for _, p := range candidates {
		if geometry.Distance(p.Geom, pt) == 0 {
			matched = append(matched, p)
		}
	}
	return matched
}
