// Package analyzer turns a JSON document into a streaming plan: one
// skeleton frame carrying the zeroed document shape, patch frames
// batched by priority (highest first), and a terminal complete frame.
//
// Analysis is synchronous and pure: no I/O, no internal concurrency, no
// shared mutable state. One Analyzer may serve any number of concurrent
// Analyze calls as long as each call gets its own document.
package analyzer

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/c360/pjstream/errors"
	"github.com/c360/pjstream/frame"
	"github.com/c360/pjstream/jsonpath"
	"github.com/c360/pjstream/priority"
)

// Defaults for batching behavior.
const (
	// DefaultMaxPatchSize caps the entries per patch frame.
	DefaultMaxPatchSize = 100
	// DefaultArrayChunkMin is the array length above which elements are
	// delivered as individual append entries instead of one set.
	DefaultArrayChunkMin = 10
)

// Summer computes a checksum over a document. The analyzer never hashes
// anything itself; when configured with a Summer, the resulting digest
// rides the complete frame for receiver-side verification.
type Summer interface {
	Sum(value any) (string, error)
}

// Config assembles an Analyzer. Zero fields take defaults.
type Config struct {
	Rules         priority.Rules `json:"rules" yaml:"rules"`
	Limits        Limits         `json:"limits" yaml:"limits"`
	MaxPatchSize  int            `json:"max_patch_size" yaml:"max_patch_size"`
	ArrayChunkMin int            `json:"array_chunk_min" yaml:"array_chunk_min"`
}

// DefaultConfig returns the default analyzer configuration.
func DefaultConfig() Config {
	return Config{
		Rules:         priority.DefaultRules(),
		Limits:        DefaultLimits(),
		MaxPatchSize:  DefaultMaxPatchSize,
		ArrayChunkMin: DefaultArrayChunkMin,
	}
}

// Analyzer walks documents and produces streaming plans.
type Analyzer struct {
	assigner      *priority.Assigner
	limits        Limits
	maxPatchSize  int
	arrayChunkMin int
	summer        Summer
}

// Option configures optional analyzer collaborators.
type Option func(*Analyzer)

// WithChecksum attaches a checksum collaborator; its digest is carried
// by every complete frame the analyzer emits.
func WithChecksum(s Summer) Option {
	return func(a *Analyzer) {
		a.summer = s
	}
}

// New builds an Analyzer from config. Invalid rules fail construction.
func New(cfg Config, opts ...Option) (*Analyzer, error) {
	if err := cfg.Rules.Validate(); err != nil {
		return nil, errors.Wrap(err, "Analyzer", "New", "validate rules")
	}

	a := &Analyzer{
		assigner:      priority.NewAssigner(cfg.Rules),
		limits:        cfg.Limits.withDefaults(),
		maxPatchSize:  cfg.MaxPatchSize,
		arrayChunkMin: cfg.ArrayChunkMin,
	}
	if a.maxPatchSize <= 0 {
		a.maxPatchSize = DefaultMaxPatchSize
	}
	if a.arrayChunkMin <= 0 {
		a.arrayChunkMin = DefaultArrayChunkMin
	}

	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// prioritizedEntry pairs a patch entry with its assigned priority while
// entries are collected and sorted. Transient; never leaves the package.
type prioritizedEntry struct {
	prio  priority.Priority
	entry frame.PatchEntry
}

// Analyze produces the streaming plan for one document on behalf of the
// stream streamID. Sequence numbers start at 1 with the skeleton frame.
//
// A document that violates the security limits fails here, before any
// frame is produced: no skeleton, no partial plan.
func (a *Analyzer) Analyze(streamID string, value any) (*Plan, error) {
	if streamID == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: stream id required", errors.ErrInvalidInput),
			"Analyzer", "Analyze", "validate arguments")
	}

	doc, err := normalize(value)
	if err != nil {
		return nil, err
	}
	if err := a.limits.Check(doc); err != nil {
		return nil, err
	}

	var entries []prioritizedEntry
	a.walk(doc, jsonpath.Root(), &entries)

	// Stable sort: higher priority first, discovery order within equal
	// priority. Ties are never re-sorted by path.
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].prio > entries[j].prio
	})

	frames := make([]frame.Frame, 0, len(entries)/a.maxPatchSize+3)
	seq := uint64(1)
	frames = append(frames, frame.NewSkeleton(streamID, seq, Skeleton(doc)))

	var (
		batch     []frame.PatchEntry
		batchPrio priority.Priority
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		seq++
		f, err := frame.NewPatch(streamID, seq, batchPrio, batch)
		if err != nil {
			return err
		}
		frames = append(frames, f)
		batch = nil
		return nil
	}

	for _, pe := range entries {
		if len(batch) > 0 && (pe.prio != batchPrio || len(batch) == a.maxPatchSize) {
			if err := flush(); err != nil {
				return nil, err
			}
		}
		if len(batch) == 0 {
			batchPrio = pe.prio
		}
		batch = append(batch, pe.entry)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	checksum := ""
	if a.summer != nil {
		checksum, err = a.summer.Sum(doc)
		if err != nil {
			return nil, errors.Wrap(err, "Analyzer", "Analyze", "compute checksum")
		}
	}
	seq++
	frames = append(frames, frame.NewComplete(streamID, seq, checksum))

	return &Plan{frames: frames, patchEntries: len(entries)}, nil
}

// walk collects patch entries depth first. Object fields holding
// primitives become set entries; small arrays are set whole; large
// arrays become one append entry per element in source order; nested
// objects recurse without a redundant parent set, since the skeleton
// already established the shape and a parent set would smuggle
// low-priority children into an earlier frame.
//
// Object keys are visited in sorted order so analysis is deterministic.
func (a *Analyzer) walk(value any, path jsonpath.Path, entries *[]prioritizedEntry) {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			child := path.Key(key)
			switch cv := v[key].(type) {
			case map[string]any:
				a.walk(cv, child, entries)
			case []any:
				a.emitArray(cv, child, entries)
			default:
				*entries = append(*entries, prioritizedEntry{
					prio:  a.assigner.FieldPriority(child, cv),
					entry: frame.PatchEntry{Path: child, Op: frame.OpSet, Value: cv},
				})
			}
		}

	case []any:
		// Document root is an array.
		a.emitArray(v, path, entries)

	default:
		// Document root is a primitive.
		*entries = append(*entries, prioritizedEntry{
			prio:  a.assigner.FieldPriority(path, v),
			entry: frame.PatchEntry{Path: path, Op: frame.OpSet, Value: v},
		})
	}
}

// emitArray emits the entries for the array at path. Empty arrays emit
// nothing (the skeleton already holds the empty array). Arrays up to
// the chunk threshold ship whole as one set entry; longer ones ship as
// per-element append entries, preserving source order so chunking can
// never reorder elements across frames.
func (a *Analyzer) emitArray(arr []any, path jsonpath.Path, entries *[]prioritizedEntry) {
	if len(arr) == 0 {
		return
	}

	if len(arr) <= a.arrayChunkMin {
		*entries = append(*entries, prioritizedEntry{
			prio:  a.assigner.FieldPriority(path, arr),
			entry: frame.PatchEntry{Path: path, Op: frame.OpSet, Value: arr},
		})
		return
	}

	prio := a.assigner.ArrayPriority(path, arr)
	for _, elem := range arr {
		*entries = append(*entries, prioritizedEntry{
			prio:  prio,
			entry: frame.PatchEntry{Path: path, Op: frame.OpAppend, Value: elem},
		})
	}
}

// normalize round-trips the value through encoding/json so the walk sees
// only canonical JSON types (map[string]any, []any, float64, string,
// bool, nil) regardless of what the caller handed in. Values that cannot
// marshal (channels, cycles) are invalid input.
func normalize(value any) (any, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidInput, err),
			"Analyzer", "Analyze", "normalize document")
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrInvalidInput, err),
			"Analyzer", "Analyze", "normalize document")
	}
	return doc, nil
}
