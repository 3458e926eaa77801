// Package geo provides the geometric primitives used for trip matching:
// great-circle distance, point-to-segment projection, and snapping a
// position onto a route polyline.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used for all distance math.
const EarthRadiusMeters = 6371000.0

// Coordinate is a WGS84 position in degrees. Field order follows the
// GeoJSON convention of longitude first.
type Coordinate struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Distance returns the great-circle distance between a and b in meters,
// computed with the haversine formula. Distance(p, p) is 0 and the result
// is symmetric in its arguments.
func Distance(a, b Coordinate) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLon := radians(b.Lon - a.Lon)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(radians(a.Lat))*math.Cos(radians(b.Lat))*sinLon*sinLon
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadiusMeters * c
}

// Projection is the result of projecting a point onto a segment. T is the
// normalized position along the segment, clamped to [0,1], so Point always
// lies on the segment itself.
type Projection struct {
	Point Coordinate
	T     float64
}

// ProjectOntoSegment projects p onto the segment [a,b] using a local
// equirectangular approximation anchored at a (longitude scaled by the
// cosine of a's latitude). The approximation holds at route-segment scale;
// it is not valid for segments spanning large latitude changes or crossing
// the anti-meridian.
func ProjectOntoSegment(p, a, b Coordinate) Projection {
	latRef := radians(a.Lat)

	// Flatten to meters around a.
	toXY := func(c Coordinate) (float64, float64) {
		x := EarthRadiusMeters * (radians(c.Lon) - radians(a.Lon)) * math.Cos(latRef)
		y := EarthRadiusMeters * (radians(c.Lat) - radians(a.Lat))
		return x, y
	}

	px, py := toXY(p)
	bx, by := toXY(b)

	t := 0.0
	if lenSq := bx*bx + by*by; lenSq > 0 {
		t = (px*bx + py*by) / lenSq
		if t < 0 {
			t = 0
		}
		if t > 1 {
			t = 1
		}
	}

	projX := t * bx
	projY := t * by

	return Projection{
		Point: Coordinate{
			Lon: a.Lon + degrees(projX/(EarthRadiusMeters*math.Cos(latRef))),
			Lat: a.Lat + degrees(projY/EarthRadiusMeters),
		},
		T: t,
	}
}

// Snap describes the nearest point on a polyline to a query position.
type Snap struct {
	Point          Coordinate
	DistanceMeters float64
	SegmentIndex   int
	T              float64
}

// SnapToPath finds the nearest point on path to p by evaluating the clamped
// projection onto every consecutive segment pair. A single-point path snaps
// to that point directly. An empty path returns ok=false.
func SnapToPath(path []Coordinate, p Coordinate) (Snap, bool) {
	if len(path) == 0 {
		return Snap{}, false
	}
	if len(path) == 1 {
		return Snap{
			Point:          path[0],
			DistanceMeters: Distance(p, path[0]),
			SegmentIndex:   0,
			T:              0,
		}, true
	}

	best := Snap{DistanceMeters: math.Inf(1), SegmentIndex: -1}
	for i := 0; i < len(path)-1; i++ {
		proj := ProjectOntoSegment(p, path[i], path[i+1])
		if d := Distance(p, proj.Point); d < best.DistanceMeters {
			best = Snap{
				Point:          proj.Point,
				DistanceMeters: d,
				SegmentIndex:   i,
				T:              proj.T,
			}
		}
	}
	return best, true
}

// OnPath reports whether p lies within toleranceMeters of the path.
func OnPath(path []Coordinate, p Coordinate, toleranceMeters float64) bool {
	snap, ok := SnapToPath(path, p)
	if !ok {
		return false
	}
	return snap.DistanceMeters <= toleranceMeters
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
