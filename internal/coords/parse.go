package coords

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	degreeGlyphs   = strings.NewReplacer("°", "", "º", "", "&deg;", "", "(", "", ")", "", ";", ",")
	spaceRun       = regexp.MustCompile(`\s+`)
	separatorRun   = regexp.MustCompile(`[,\s]+`)
	hasCardinal    = regexp.MustCompile(`[NSEWnsew]`)
	numberThenCard = regexp.MustCompile(`([0-9.])([NSEWnsew])\b`)
	cardThenNumber = regexp.MustCompile(`\b([NSEWnsew])([-+0-9.])`)
)

// normalize strips decoration and returns the delimiter-separated tokens.
func normalize(input string) (string, []string) {
	s := strings.TrimSpace(input)
	s = degreeGlyphs.Replace(s)
	s = spaceRun.ReplaceAllString(s, " ")
	// "34.1N" and "N34.1" become two tokens.
	s = numberThenCard.ReplaceAllString(s, "$1 $2")
	s = cardThenNumber.ReplaceAllString(s, "$1 $2")
	s = strings.TrimSpace(s)

	var tokens []string
	for _, t := range separatorRun.Split(s, -1) {
		if t != "" {
			tokens = append(tokens, t)
		}
	}
	return s, tokens
}

// Parse interprets input as a latitude/longitude pair.
// On failure the returned error is a *ParseError and the Point is zero.
func Parse(input string) (Point, error) {
	s, tokens := normalize(input)
	if s == "" || len(tokens) == 0 {
		return Point{}, &ParseError{Input: input, Err: ErrEmpty}
	}

	var (
		p   Point
		err error
	)
	if hasCardinal.MatchString(s) {
		p, err = parseCardinal(tokens)
	} else {
		p, err = parseSigned(tokens)
	}
	if err != nil {
		return Point{}, &ParseError{Input: input, Err: err}
	}
	return p, nil
}

func toNum(tok string) (float64, bool) {
	v, err := strconv.ParseFloat(tok, 64)
	if err != nil || !isFinite(v) {
		return 0, false
	}
	return v, true
}

func parseSigned(tokens []string) (Point, error) {
	if len(tokens) != 2 {
		return Point{}, ErrMalformed
	}
	lat, okA := toNum(tokens[0])
	lon, okB := toNum(tokens[1])
	if !okA || !okB {
		return Point{}, ErrMalformed
	}
	if !isLat(lat) {
		return Point{}, ErrLatitudeRange
	}
	if !isLon(lon) {
		return Point{}, ErrLongitudeRange
	}
	return Point{Lat: lat, Lon: lon}, nil
}

type axis int

const (
	axisNone axis = iota
	axisLat
	axisLon
)

func direction(tok string) (axis, float64) {
	switch strings.ToUpper(tok) {
	case "N":
		return axisLat, 1
	case "S":
		return axisLat, -1
	case "E":
		return axisLon, 1
	case "W":
		return axisLon, -1
	default:
		return axisNone, 0
	}
}

// match pairs a hemisphere token with a magnitude that fits its axis.
func match(dirTok, numTok string) (axis, float64, bool) {
	ax, sign := direction(dirTok)
	if ax == axisNone {
		return axisNone, 0, false
	}
	v, ok := toNum(numTok)
	if !ok {
		return axisNone, 0, false
	}
	if (ax == axisLat && !isLat(v)) || (ax == axisLon && !isLon(v)) {
		return axisNone, 0, false
	}
	return ax, sign * math.Abs(v), true
}

func parseCardinal(tokens []string) (Point, error) {
	var lats, lons []float64
	sawLatDir, sawLonDir := false, false
	for _, t := range tokens {
		switch ax, _ := direction(t); ax {
		case axisLat:
			sawLatDir = true
		case axisLon:
			sawLonDir = true
		}
	}

	// Each token belongs to at most one pair; "number direction" is tried
	// before "direction number" at every position.
	for i := 0; i < len(tokens)-1; {
		if ax, v, ok := match(tokens[i+1], tokens[i]); ok {
			if ax == axisLat {
				lats = append(lats, v)
			} else {
				lons = append(lons, v)
			}
			i += 2
			continue
		}
		if ax, v, ok := match(tokens[i], tokens[i+1]); ok {
			if ax == axisLat {
				lats = append(lats, v)
			} else {
				lons = append(lons, v)
			}
			i += 2
			continue
		}
		i++
	}

	lat, err := single(lats, sawLatDir, ErrMissingLatitude, ErrLatitudeRange)
	if err != nil {
		return Point{}, err
	}
	lon, err := single(lons, sawLonDir, ErrMissingLongitude, ErrLongitudeRange)
	if err != nil {
		return Point{}, err
	}
	return Point{Lat: lat, Lon: lon}, nil
}

// single resolves the matches for one axis. A hemisphere letter that never
// paired with an in-range value reports the range error.
func single(vals []float64, sawDir bool, missing, outOfRange error) (float64, error) {
	if len(vals) == 0 {
		if sawDir {
			return 0, outOfRange
		}
		return 0, missing
	}
	for _, v := range vals[1:] {
		if v != vals[0] {
			return 0, ErrAmbiguous
		}
	}
	return vals[0], nil
}
