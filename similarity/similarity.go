// Package similarity decides cheaply whether two snapshots are near
// duplicates: a MinHash signature split into LSH bands finds candidate
// pairs, and shingle Jaccard similarity confirms them.
package similarity

import (
	"encoding/binary"
	"math"

	"golang.org/x/crypto/blake2b"

	"github.com/hazyhaar/argus/change"
)

// Config sizes the signature. Signatures are Bands*Rows values long.
type Config struct {
	Bands     int     `yaml:"bands" toml:"bands"`
	Rows      int     `yaml:"rows" toml:"rows"`
	Threshold float64 `yaml:"threshold" toml:"threshold"`
}

func (c *Config) defaults() {
	if c.Bands <= 0 {
		c.Bands = 20
	}
	if c.Rows <= 0 {
		c.Rows = 5
	}
	if c.Threshold <= 0 || c.Threshold > 1 {
		c.Threshold = 0.95
	}
}

// Prefilter computes signatures and near-duplicate verdicts. It is
// immutable and safe for concurrent use.
type Prefilter struct {
	cfg   Config
	seeds []uint64
}

// New returns a Prefilter for cfg; zero fields take defaults.
func New(cfg Config) *Prefilter {
	cfg.defaults()
	n := cfg.Bands * cfg.Rows
	seeds := make([]uint64, n)
	s := uint64(0x9e3779b97f4a7c15)
	for i := range seeds {
		s = mix(s + uint64(i) + 1)
		seeds[i] = s
	}
	return &Prefilter{cfg: cfg, seeds: seeds}
}

// Config returns the effective configuration.
func (p *Prefilter) Config() Config { return p.cfg }

// Signature returns the MinHash signature of a shingle sequence.
func (p *Prefilter) Signature(shingles []string) []uint64 {
	sig := make([]uint64, len(p.seeds))
	for i := range sig {
		sig[i] = math.MaxUint64
	}
	for _, sh := range shingles {
		h := baseHash(sh)
		for i, seed := range p.seeds {
			if v := mix(h ^ seed); v < sig[i] {
				sig[i] = v
			}
		}
	}
	return sig
}

// Candidate reports whether any band of a equals the same band of b.
// Signatures of a different length never match.
func (p *Prefilter) Candidate(a, b []uint64) bool {
	if len(a) != len(p.seeds) || len(b) != len(p.seeds) {
		return false
	}
	rows := p.cfg.Rows
	for band := 0; band < p.cfg.Bands; band++ {
		lo, hi := band*rows, (band+1)*rows
		same := true
		for i := lo; i < hi; i++ {
			if a[i] != b[i] {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	return false
}

// Verdict is the outcome of comparing two snapshots.
type Verdict struct {
	Candidate  bool
	Similarity float64 // only computed for candidates
	Similar    bool
}

// Compare runs the band test and, for candidates, the Jaccard check.
func (p *Prefilter) Compare(old, cur *change.Snapshot) Verdict {
	var v Verdict
	if !p.Candidate(old.Signature, cur.Signature) {
		return v
	}
	v.Candidate = true
	v.Similarity = Jaccard(old.Shingles, cur.Shingles)
	v.Similar = v.Similarity >= p.cfg.Threshold
	return v
}

// Jaccard returns |A∩B| / |A∪B| of the shingle sets. Two empty sets are
// identical.
func Jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	sa := make(map[string]struct{}, len(a))
	for _, s := range a {
		sa[s] = struct{}{}
	}
	sb := make(map[string]struct{}, len(b))
	for _, s := range b {
		sb[s] = struct{}{}
	}
	inter := 0
	for s := range sb {
		if _, ok := sa[s]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}

func baseHash(s string) uint64 {
	sum := blake2b.Sum256([]byte(s))
	return binary.LittleEndian.Uint64(sum[:8])
}

// mix is the splitmix64 finalizer.
func mix(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}
