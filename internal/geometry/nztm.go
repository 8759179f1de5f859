package geometry

import (
	"math"

	"github.com/paulmach/orb"
)

// NZTM2000 (EPSG:2193) projection parameters on the GRS80 ellipsoid.
const (
	nztmA            = 6378137.0
	nztmF            = 1 / 298.257222101
	nztmScaleFactor  = 0.9996
	nztmOriginLat    = 0.0
	nztmOriginLon    = 173.0
	nztmFalseEasting = 1600000.0
	nztmFalseNorth   = 10000000.0
)

// LatLonToNZTM projects a WGS84 latitude/longitude pair to NZTM2000
// easting/northing using the standard transverse Mercator series. WGS84 and
// NZGD2000 are treated as coincident, which holds at the sub-metre level
// relevant for facility locations.
func LatLonToNZTM(lat, lon float64) orb.Point {
	e2 := nztmF * (2 - nztmF)
	ep2 := e2 / (1 - e2)

	phi := lat * math.Pi / 180
	dLam := (lon - nztmOriginLon) * math.Pi / 180

	sinPhi := math.Sin(phi)
	cosPhi := math.Cos(phi)
	tanPhi := math.Tan(phi)

	nu := nztmA / math.Sqrt(1-e2*sinPhi*sinPhi)
	t := tanPhi * tanPhi
	c := ep2 * cosPhi * cosPhi
	a := dLam * cosPhi

	m := meridianArc(phi, e2)

	a2 := a * a
	a3 := a2 * a
	a4 := a3 * a
	a5 := a4 * a
	a6 := a5 * a

	easting := nztmFalseEasting + nztmScaleFactor*nu*(a+
		(1-t+c)*a3/6+
		(5-18*t+t*t+72*c-58*ep2)*a5/120)

	northing := nztmFalseNorth + nztmScaleFactor*(m+nu*tanPhi*(a2/2+
		(5-t+9*c+4*c*c)*a4/24+
		(61-58*t+t*t+600*c-330*ep2)*a6/720))

	return orb.Point{easting, northing}
}

// meridianArc returns the meridian arc length from the equator to latitude
// phi on an ellipsoid with first eccentricity squared e2.
func meridianArc(phi, e2 float64) float64 {
	e4 := e2 * e2
	e6 := e4 * e2
	return nztmA * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}
