// Package vocab holds the feature vocabulary shared by the offline vectorizer
// and the online recommendation path. The order of every list here defines the
// vector layout; changing any of it requires bumping Version and re-vectorizing
// the whole catalog.
package vocab

import (
	"hash/fnv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Version tags every stored vector. Vectors carrying another version are
// rejected by the online path.
const Version = "v1"

// HashDim is the number of hashed slots per free-text field.
const HashDim = 512

// Field tags prefixed to free-text tokens before hashing, so the same name in
// two fields lands in independent slots.
const (
	TagCast            = "cast:"
	TagDirector        = "dir:"
	TagCinematographer = "cin:"
	TagKeyword         = "kw:"
)

// Genres is the fixed genre vocabulary.
var Genres = []string{
	"Action",
	"Adventure",
	"Animation",
	"Comedy",
	"Crime",
	"Documentary",
	"Drama",
	"Family",
	"Fantasy",
	"History",
	"Horror",
	"Music",
	"Mystery",
	"Romance",
	"Science Fiction",
	"TV Movie",
	"Thriller",
	"War",
	"Western",
}

// Bucket is a named integer-range predicate.
type Bucket struct {
	Name  string
	Match func(v int) bool
}

// YearBuckets partitions release years.
var YearBuckets = []Bucket{
	{Name: "<=1980", Match: func(y int) bool { return y <= 1980 }},
	{Name: "1981-1990", Match: func(y int) bool { return y >= 1981 && y <= 1990 }},
	{Name: "1991-2000", Match: func(y int) bool { return y >= 1991 && y <= 2000 }},
	{Name: "2001-2010", Match: func(y int) bool { return y >= 2001 && y <= 2010 }},
	{Name: "2011-2020", Match: func(y int) bool { return y >= 2011 && y <= 2020 }},
	{Name: ">=2021", Match: func(y int) bool { return y >= 2021 }},
}

// RuntimeBuckets partitions runtimes in minutes.
var RuntimeBuckets = []Bucket{
	{Name: "short", Match: func(m int) bool { return m < 90 }},
	{Name: "standard", Match: func(m int) bool { return m >= 90 && m < 120 }},
	{Name: "long", Match: func(m int) bool { return m >= 120 && m <= 180 }},
	{Name: "epic", Match: func(m int) bool { return m > 180 }},
}

// Layout gives the start offset of every block in a vector.
type Layout struct {
	Genres           int
	Rating           int
	Year             int
	Runtime          int
	Cast             int
	Directors        int
	Cinematographers int
	Keywords         int
	Dimension        int
}

var (
	layout     = computeLayout()
	genreIndex = buildGenreIndex()
)

func computeLayout() Layout {
	l := Layout{}
	l.Genres = 0
	l.Rating = l.Genres + len(Genres)
	l.Year = l.Rating + 1
	l.Runtime = l.Year + len(YearBuckets)
	l.Cast = l.Runtime + len(RuntimeBuckets)
	l.Directors = l.Cast + HashDim
	l.Cinematographers = l.Directors + HashDim
	l.Keywords = l.Cinematographers + HashDim
	l.Dimension = l.Keywords + HashDim
	return l
}

func buildGenreIndex() map[string]int {
	idx := make(map[string]int, len(Genres))
	for i, g := range Genres {
		idx[strings.ToLower(g)] = i
	}
	return idx
}

// Offsets returns the block layout for the current version.
func Offsets() Layout {
	return layout
}

// Dimension is the full vector length.
func Dimension() int {
	return layout.Dimension
}

// GenreIndex returns the position of a genre, matched case-insensitively.
func GenreIndex(name string) (int, bool) {
	i, ok := genreIndex[strings.ToLower(strings.TrimSpace(name))]
	return i, ok
}

// BucketIndex returns the index of the first bucket matching v, or -1.
func BucketIndex(buckets []Bucket, v int) int {
	for i, b := range buckets {
		if b.Match(v) {
			return i
		}
	}
	return -1
}

// NormalizeToken trims, NFC-normalizes and lower-cases a free-text token.
func NormalizeToken(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return ""
	}
	// cases.Caser is stateful, so one per call.
	return cases.Lower(language.Und).String(norm.NFC.String(token))
}

// HashToken maps a tagged token to a slot in [0, HashDim). It reports false
// for tokens that are empty after normalization.
func HashToken(tag, token string) (int, bool) {
	normalized := NormalizeToken(token)
	if normalized == "" {
		return 0, false
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(tag))
	_, _ = h.Write([]byte(normalized))
	return int(h.Sum32() % HashDim), true
}
