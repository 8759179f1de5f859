package parcel

import (
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/paulmach/orb"

	"github.com/nz-facilities/internal/geometry"
)

// MaxMergeRounds bounds the number of expansion rounds of a single merge.
// Without the bound a chain of adjacent same-owner titles could absorb an
// entire street block.
const MaxMergeRounds = 20

// MergeResult is the merged polygon assigned to one point, with the owner
// names of the seed titles sorted and comma-joined.
type MergeResult struct {
	Geom       orb.MultiPolygon
	OwnerNames string
	OwnerCount int
}

// AssignPolygon builds a merged polygon for one point location.
//
// The seed is the union of every parcel the point intersects. The owner set is
// frozen from those seed parcels; expansion rounds then absorb any not-yet-
// merged parcel with an owner from that set within the distance threshold of
// the growing geometry, up to MaxMergeRounds rounds. Owners of absorbed
// parcels never extend the set, which stops the merge drifting laterally into
// a different owner's holdings through a chain of shared boundaries.
//
// A point intersecting no parcels returns (nil, nil): a normal outcome, not an
// error. Calling before any parcels are loaded returns ErrNotLoaded.
func (s *Set) AssignPolygon(pt orb.Point, useStdNames bool, threshold float64) (*MergeResult, error) {
	if s.Len() == 0 {
		return nil, ErrNotLoaded
	}
	seeds := s.intersecting(pt)
	if len(seeds) == 0 {
		return nil, nil
	}

	ownerOf := func(p *Parcel) string {
		if useStdNames {
			return p.StdOwner
		}
		return p.Owner
	}

	owners := make(map[string]bool)
	seedIDs := make(map[int]bool)
	var geom orb.MultiPolygon
	for _, p := range seeds {
		if name := ownerOf(p); name != "" {
			owners[name] = true
		}
		// A multi-owner title has one row per owner; its polygon joins the
		// seed once.
		if !seedIDs[p.TitleID] {
			seedIDs[p.TitleID] = true
			geom = append(geom, p.Geom)
		}
	}

	// Candidates share an owner with the seed and are not part of it.
	var sameOwner []*Parcel
	for _, p := range s.parcels {
		if owners[ownerOf(p)] && !seedIDs[p.TitleID] {
			sameOwner = append(sameOwner, p)
		}
	}

	rounds := 1
	merged := make(map[int]bool)
	for {
		var nearby []*Parcel
		for _, p := range sameOwner {
			if !merged[p.TitleID] && geometry.Distance(p.Geom, geom) <= threshold {
				nearby = append(nearby, p)
				merged[p.TitleID] = true
			}
		}
		if len(nearby) == 0 || rounds >= MaxMergeRounds {
			break
		}
		for _, p := range nearby {
			geom = append(geom, p.Geom)
		}
		rounds++
	}

	names := make([]string, 0, len(owners))
	for name := range owners {
		names = append(names, name)
	}
	sort.Strings(names)
	return &MergeResult{
		Geom:       geom,
		OwnerNames: strings.Join(names, ", "),
		OwnerCount: len(owners),
	}, nil
}

// AssignAll runs AssignPolygon over a slice of point geometries with a worker
// pool. The result slice is index-aligned with the input; nil entries mark
// null or non-point geometries and points with no intersecting parcels.
func (s *Set) AssignAll(points []orb.Geometry, useStdNames bool, threshold float64, workers int) ([]*MergeResult, error) {
	if s.Len() == 0 {
		return nil, ErrNotLoaded
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	results := make([]*MergeResult, len(points))
	jobs := make(chan int, len(points))
	for i := range points {
		jobs <- i
	}
	close(jobs)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				pt, ok := points[i].(orb.Point)
				if !ok {
					continue
				}
				// Loaded-set precondition was checked above.
				results[i], _ = s.AssignPolygon(pt, useStdNames, threshold)
			}
		}()
	}
	wg.Wait()
	return results, nil
}
