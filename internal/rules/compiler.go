package rules

import (
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/signalboard/internal/domain"
)

// Predicate is a compiled formula. It is immutable and safe for concurrent
// use.
type Predicate struct {
	formula string
	root    node
}

// Formula returns the normalized formula text the predicate was built from.
func (p *Predicate) Formula() string { return p.formula }

// Hash returns the structural hash of the formula text.
func (p *Predicate) Hash() uint64 { return Hash(p.formula) }

// Eval applies the predicate to a record. An error means the condition could
// not be decided for this record.
func (p *Predicate) Eval(rec Record) (bool, error) {
	vals := rec.slots()
	return evalBool(p.root, &vals)
}

// Normalize collapses whitespace so equivalent spellings share a cache entry.
func Normalize(formula string) string {
	return strings.Join(strings.Fields(formula), " ")
}

// Hash returns the xxhash of the normalized formula.
func Hash(formula string) uint64 {
	return xxhash.Sum64String(Normalize(formula))
}

// Compile compiles formula text without caching. A CompileError carries the
// text as given, so Pos indexes what the author typed; the predicate keeps
// the normalized text.
func Compile(formula string) (*Predicate, error) {
	root, err := parse(formula)
	if err != nil {
		return nil, err
	}
	return &Predicate{formula: Normalize(formula), root: root}, nil
}

// defaultCacheSize bounds the number of cached predicates; formulas submitted
// for validation should not grow the cache without limit.
const defaultCacheSize = 1024

// Compiler memoizes compiled predicates keyed by normalized formula text.
type Compiler struct {
	mu       sync.RWMutex
	cache    map[string]*Predicate
	maxSize  int
	inflight singleflight.Group
}

// NewCompiler returns a Compiler with an empty cache.
func NewCompiler() *Compiler {
	return &Compiler{
		cache:   make(map[string]*Predicate),
		maxSize: defaultCacheSize,
	}
}

// Compile returns the cached predicate for formula, compiling it on a miss.
// Failed compilations are not cached.
func (c *Compiler) Compile(formula string) (*Predicate, error) {
	key := Normalize(formula)

	c.mu.RLock()
	p, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	v, err, shared := c.inflight.Do(key, func() (any, error) {
		p, err := Compile(formula)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if len(c.cache) < c.maxSize {
			c.cache[key] = p
		}
		c.mu.Unlock()
		return p, nil
	})
	if err != nil {
		if shared {
			// Another spelling of the same formula failed; report positions
			// in this caller's text.
			_, err = Compile(formula)
		}
		return nil, err
	}
	return v.(*Predicate), nil
}

// CompileConditions joins a condition list and compiles the result.
func (c *Compiler) CompileConditions(keys []string, op domain.LogicOperator) (*Predicate, error) {
	formula, err := Join(keys, op)
	if err != nil {
		return nil, err
	}
	return c.Compile(formula)
}

// Len returns the number of cached predicates.
func (c *Compiler) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}
