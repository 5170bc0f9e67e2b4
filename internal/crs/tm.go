package crs

import (
	"math"

	"github.com/wroge/wgs84"
)

type ellipsoid struct {
	a    float64 // semi-major axis, metres
	invF float64 // inverse flattening
}

var (
	grs80          = ellipsoid{a: 6378137, invF: 298.257222101}
	wgs84Ellipsoid = ellipsoid{a: 6378137, invF: 298.257223563}
)

// transverseMercator implements the ellipsoidal Transverse Mercator projection
// with Krüger's series to sixth order in the third flattening n (Karney 2011).
// Accuracy is well under a millimetre within 30 degrees of the central meridian.
type transverseMercator struct {
	lon0   float64 // central meridian, radians
	k0     float64
	fe, fn float64
	e      float64
	a      float64 // rectifying radius A
	alpha  [6]float64
	beta   [6]float64
	xi0    float64 // ξ of the latitude of origin on the central meridian
}

func newTransverseMercator(el ellipsoid, lat0, lon0, k0, fe, fn float64) *transverseMercator {
	f := 1 / el.invF
	n := f / (2 - f)
	n2 := n * n
	n3 := n2 * n
	n4 := n3 * n
	n5 := n4 * n
	n6 := n5 * n

	tm := &transverseMercator{
		lon0: lon0 * math.Pi / 180,
		k0:   k0,
		fe:   fe,
		fn:   fn,
		e:    math.Sqrt(f * (2 - f)),
		a:    el.a / (1 + n) * (1 + n2/4 + n4/64 + n6/256),
		alpha: [6]float64{
			n/2 - 2*n2/3 + 5*n3/16 + 41*n4/180 - 127*n5/288 + 7891*n6/37800,
			13*n2/48 - 3*n3/5 + 557*n4/1440 + 281*n5/630 - 1983433*n6/1935360,
			61*n3/240 - 103*n4/140 + 15061*n5/26880 + 167603*n6/181440,
			49561*n4/161280 - 179*n5/168 + 6601661*n6/7257600,
			34729*n5/80640 - 3418889*n6/1995840,
			212378941 * n6 / 319334400,
		},
		beta: [6]float64{
			n/2 - 2*n2/3 + 37*n3/96 - n4/360 - 81*n5/512 + 96199*n6/604800,
			n2/48 + n3/15 - 437*n4/1440 + 46*n5/105 - 1118711*n6/3870720,
			17*n3/480 - 37*n4/840 - 209*n5/4480 + 5569*n6/90720,
			4397*n4/161280 - 11*n5/504 - 830251*n6/7257600,
			4583*n5/161280 - 108847*n6/3991680,
			20648693 * n6 / 638668800,
		},
	}
	tm.xi0, _ = tm.xiEta(lat0*math.Pi/180, 0)
	return tm
}

// xiEta maps geodetic latitude and longitude offset (radians) to the
// normalised Gauss-Krüger coordinates ξ, η.
func (tm *transverseMercator) xiEta(phi, dl float64) (float64, float64) {
	sinPhi := math.Sin(phi)
	t := math.Sinh(math.Atanh(sinPhi) - tm.e*math.Atanh(tm.e*sinPhi))
	xiP := math.Atan2(t, math.Cos(dl))
	etaP := math.Atanh(math.Sin(dl) / math.Sqrt(1+t*t))

	xi, eta := xiP, etaP
	for j := 1; j <= 6; j++ {
		k := 2 * float64(j)
		xi += tm.alpha[j-1] * math.Sin(k*xiP) * math.Cosh(k*etaP)
		eta += tm.alpha[j-1] * math.Cos(k*xiP) * math.Sinh(k*etaP)
	}
	return xi, eta
}

func (tm *transverseMercator) forward(lon, lat float64) (float64, float64) {
	xi, eta := tm.xiEta(lat*math.Pi/180, lon*math.Pi/180-tm.lon0)
	x := tm.fe + tm.k0*tm.a*eta
	y := tm.fn + tm.k0*tm.a*(xi-tm.xi0)
	return x, y
}

func (tm *transverseMercator) inverse(x, y float64) (float64, float64) {
	eta := (x - tm.fe) / (tm.k0 * tm.a)
	xi := (y-tm.fn)/(tm.k0*tm.a) + tm.xi0

	xiP, etaP := xi, eta
	for j := 1; j <= 6; j++ {
		k := 2 * float64(j)
		xiP -= tm.beta[j-1] * math.Sin(k*xi) * math.Cosh(k*eta)
		etaP -= tm.beta[j-1] * math.Cos(k*xi) * math.Sinh(k*eta)
	}

	sinhEta := math.Sinh(etaP)
	cosXi := math.Cos(xiP)
	tauP := math.Sin(xiP) / math.Hypot(sinhEta, cosXi)
	dl := math.Atan2(sinhEta, cosXi)

	tau := tm.conformalToGeodetic(tauP)
	lat := math.Atan(tau) * 180 / math.Pi
	lon := (tm.lon0 + dl) * 180 / math.Pi
	return lon, lat
}

// conformalToGeodetic solves τ' = τ√(1+σ²) − σ√(1+τ²) for τ = tan φ by Newton iteration.
func (tm *transverseMercator) conformalToGeodetic(tauP float64) float64 {
	e2 := tm.e * tm.e
	tau := tauP
	for range 10 {
		sq := math.Sqrt(1 + tau*tau)
		sigma := math.Sinh(tm.e * math.Atanh(tm.e*tau/sq))
		tauI := tau*math.Sqrt(1+sigma*sigma) - sigma*sq
		d := (tauP - tauI) / math.Sqrt(1+tauI*tauI) * (1 + (1-e2)*tau*tau) / ((1 - e2) * sq)
		tau += d
		if math.Abs(d) <= 1e-15*math.Max(1, math.Abs(tau)) {
			break
		}
	}
	return tau
}

// system adapts a github.com/wroge/wgs84 reference system. Heights are not carried.
type system struct {
	ref wgs84.CoordinateReferenceSystem
}

// webMercator is the spherical Pseudo-Mercator used by web map tiles (EPSG:3857).
func webMercator() system {
	return system{ref: wgs84.WebMercator()}
}

func (s system) forward(lon, lat float64) (float64, float64) {
	x, y, _ := wgs84.To(s.ref)(lon, lat, 0)
	return x, y
}

func (s system) inverse(x, y float64) (float64, float64) {
	lon, lat, _ := wgs84.From(s.ref)(x, y, 0)
	return lon, lat
}

// geographic leaves longitude/latitude untouched.
type geographic struct{}

func (geographic) forward(lon, lat float64) (float64, float64) { return lon, lat }
func (geographic) inverse(x, y float64) (float64, float64)     { return x, y }

// scaled converts projected coordinates expressed in a non-metre linear unit.
type scaled struct {
	inner  projection
	metres float64 // metres per unit
}

func (s scaled) forward(lon, lat float64) (float64, float64) {
	x, y := s.inner.forward(lon, lat)
	return x / s.metres, y / s.metres
}

func (s scaled) inverse(x, y float64) (float64, float64) {
	return s.inner.inverse(x*s.metres, y*s.metres)
}
