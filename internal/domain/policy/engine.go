package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// ErrNoPolicySet indicates an evaluation was attempted before any policy set
// was published. Startup always loads one, so seeing this means the engine
// was wired without a Loader.Load.
var ErrNoPolicySet = errors.New("no policy set published")

// lruEntry is a doubly-linked list node for the decision cache.
type lruEntry struct {
	key      uint64
	decision Decision
	prev     *lruEntry
	next     *lruEntry
}

// decisionCache provides bounded LRU caching for evaluation results.
// Thread-safe with Mutex (both Get and Put mutate LRU order).
type decisionCache struct {
	mu      sync.Mutex
	entries map[uint64]*lruEntry
	head    *lruEntry // most recently used
	tail    *lruEntry // least recently used
	maxSize int
}

func newDecisionCache(maxSize int) *decisionCache {
	return &decisionCache{
		entries: make(map[uint64]*lruEntry, maxSize),
		maxSize: maxSize,
	}
}

// Get retrieves a cached decision. On hit, the entry is promoted to the head.
func (c *decisionCache) Get(key uint64) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.moveToHeadLocked(e)
		return e.decision, true
	}
	return Decision{}, false
}

// Put stores a decision. At capacity, the least recently used entry is evicted.
func (c *decisionCache) Put(key uint64, decision Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.decision = decision
		c.moveToHeadLocked(e)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}

	e := &lruEntry{key: key, decision: decision}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Clear empties the cache. Called on policy reload.
func (c *decisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*lruEntry, c.maxSize)
	c.head = nil
	c.tail = nil
}

// Size returns current cache size.
func (c *decisionCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *decisionCache) moveToHeadLocked(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

func (c *decisionCache) pushHeadLocked(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *decisionCache) unlinkLocked(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *decisionCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}

// computeCacheKey hashes the full evaluation input together with the policy
// set version, so a cached decision can never outlive the set it was
// computed against.
func computeCacheKey(in Input, version uint64) uint64 {
	h := xxhash.New()

	var v [8]byte
	for i := 0; i < 8; i++ {
		v[i] = byte(version >> (8 * i))
	}
	_, _ = h.Write(v[:])
	_, _ = h.Write([]byte{0})

	// JSON of the whole input (map keys are sorted by encoding/json).
	raw, _ := json.Marshal(in)
	_, _ = h.Write(raw)

	return h.Sum64()
}

// Engine is the policy decision point. It evaluates an Input against the
// Loader's published PolicySet with deny-overrides combining: any matched
// Deny wins; otherwise any matched Challenge wins; otherwise any matched
// Permit wins; the terminal default-deny rule guarantees at least one match.
//
// Evaluation reads the published set exactly once, so a concurrent reload
// never mixes rules from two sets into one decision.
type Engine struct {
	loader *Loader
	cache  *decisionCache
	logger *slog.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCacheSize sets the maximum number of cached decisions.
func WithCacheSize(size int) EngineOption {
	return func(e *Engine) {
		e.cache = newDecisionCache(size)
	}
}

// NewEngine creates an Engine bound to the loader. The decision cache is
// cleared on every successful policy publication.
func NewEngine(loader *Loader, logger *slog.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		loader: loader,
		cache:  newDecisionCache(1000),
		logger: logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	loader.OnSwap(func(*PolicySet) { e.cache.Clear() })
	return e
}

// Evaluate runs the input through the published policy set and returns the
// combined decision. A cancelled context aborts evaluation with the context
// error and no decision. Evaluate never returns a Permit on error.
func (e *Engine) Evaluate(ctx context.Context, in Input) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	set := e.loader.Current()
	if set == nil {
		return Decision{}, ErrNoPolicySet
	}

	key := computeCacheKey(in, set.Version)
	if d, ok := e.cache.Get(key); ok {
		return d, nil
	}

	attrs := FlattenInput(in)

	var matched []*Rule
	for i := range set.Rules {
		if err := ctx.Err(); err != nil {
			return Decision{}, err
		}
		rule := &set.Rules[i]
		if rule.ID == DefaultDenyRuleID {
			// Terminal rule: applies only when nothing else matched.
			if len(matched) == 0 {
				matched = append(matched, rule)
			}
			continue
		}
		if !targetMatches(rule.Target, in) {
			continue
		}
		// Undef at the top level is a non-match, never an error.
		if rule.Condition.Eval(attrs) == TriTrue {
			matched = append(matched, rule)
		}
	}

	decision := combine(matched)
	e.cache.Put(key, decision)

	return decision, nil
}

// targetMatches applies a rule's optional coarse filter. A nil target and
// empty fields match anything.
func targetMatches(t *Target, in Input) bool {
	if t == nil {
		return true
	}
	if t.ResourceType != "" {
		rt, _ := in.Resource["type"].(string)
		if rt != t.ResourceType {
			return false
		}
	}
	if t.Action != "" && t.Action != in.Action {
		return false
	}
	return true
}

// combine applies deny-overrides to the matched rules. Matched is never
// empty: the default-deny rule always matches last.
func combine(matched []*Rule) Decision {
	winning := EffectPermit
	for _, r := range matched {
		switch r.Effect {
		case EffectDeny:
			winning = EffectDeny
		case EffectChallenge:
			if winning != EffectDeny {
				winning = EffectChallenge
			}
		}
	}

	d := Decision{
		Decision:    winning,
		Reasons:     []string{},
		Advice:      []string{},
		Obligations: []string{},
	}

	seenAdvice := make(map[string]struct{})
	seenObligations := make(map[string]struct{})
	for _, r := range matched {
		if r.Effect != winning {
			continue
		}
		d.Reasons = append(d.Reasons, fmt.Sprintf("ruleId: %s", r.ID))
		for _, a := range r.Advice {
			if _, ok := seenAdvice[a]; ok {
				continue
			}
			seenAdvice[a] = struct{}{}
			d.Advice = append(d.Advice, a)
		}
		for _, o := range r.Obligations {
			if _, ok := seenObligations[o]; ok {
				continue
			}
			seenObligations[o] = struct{}{}
			d.Obligations = append(d.Obligations, o)
		}
	}

	return d
}

// CacheSize reports the current number of cached decisions, for metrics.
func (e *Engine) CacheSize() int {
	return e.cache.Size()
}
