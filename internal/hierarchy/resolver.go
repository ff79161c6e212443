// Package hierarchy resolves content tree nodes to their root course and
// provider. Trees are rebuilt per import run from the latest dump; resolved
// results are memoized because activity events reference the same leaves
// millions of times per import.
package hierarchy

import (
	"errors"
	"fmt"
	"sort"

	"activity-sync/internal/domain"
)

var (
	// ErrDuplicateNode marks a node id that appears twice with conflicting
	// parents. Upstream dumps are append-only and frequently reprocessed, so
	// a consistent re-occurrence can be tolerated per provider policy, but a
	// conflicting one signals corruption and aborts the import.
	ErrDuplicateNode = errors.New("hierarchy: duplicate node id with conflicting parent")

	// ErrCycle marks a node reachable from itself via parent links.
	ErrCycle = errors.New("hierarchy: cycle in content tree")

	// ErrCourseType marks a resolved root whose course type is not the
	// expected verified-digital-content label.
	ErrCourseType = errors.New("hierarchy: unexpected course type at root")
)

// DuplicatePolicy controls how NewResolver treats a node id that was
// already indexed.
type DuplicatePolicy int

const (
	// RejectDuplicates fails on any repeated id (default).
	RejectDuplicates DuplicatePolicy = iota
	// TolerateMatchingParent accepts a repeat only when its parent id equals
	// the stored one, treating it as a re-affirmation from a partial dump.
	TolerateMatchingParent
)

// Fallback rewrites a content id that is absent from the tree into a
// candidate that might be present. ok is false when the heuristic does not
// apply or its candidate is absent as well.
type Fallback func(id string, exists func(string) bool) (string, bool)

// PrefixFallback retries membership with each content-type tag prepended.
func PrefixFallback(prefixes ...string) Fallback {
	return func(id string, exists func(string) bool) (string, bool) {
		for _, p := range prefixes {
			if candidate := p + id; exists(candidate) {
				return candidate, true
			}
		}
		return "", false
	}
}

// Options configures a resolver for one provider's tree.
type Options struct {
	Duplicates DuplicatePolicy
	Fallbacks  []Fallback

	// TypeLabel maps a provider course-type code to its label.
	TypeLabel func(typeID string) (string, bool)

	// ProviderName maps a node's system code to the provider short name.
	ProviderName func(systemCode string) (string, bool)

	// ExpectedLabel is the course type every resolvable root must carry.
	// Empty means refdata.CourseTypeDigital via the caller.
	ExpectedLabel string
}

// Resolver indexes one tree snapshot.
type Resolver struct {
	nodes map[string]domain.ContentNode
	memo  map[string]memoEntry
	opts  Options
}

type memoEntry struct {
	course domain.ResolvedCourse
	ok     bool
}

// NewResolver indexes the flat node list, applying the duplicate policy.
func NewResolver(nodes []domain.ContentNode, opts Options) (*Resolver, error) {
	index := make(map[string]domain.ContentNode, len(nodes))
	for _, node := range nodes {
		if stored, ok := index[node.ID]; ok {
			if opts.Duplicates == TolerateMatchingParent && stored.ParentID == node.ParentID {
				continue
			}
			return nil, fmt.Errorf("%w: id %q", ErrDuplicateNode, node.ID)
		}
		index[node.ID] = node
	}
	return &Resolver{
		nodes: index,
		memo:  map[string]memoEntry{},
		opts:  opts,
	}, nil
}

func (r *Resolver) contains(id string) bool {
	_, ok := r.nodes[id]
	return ok
}

// Match rewrites a raw content id into the tree node id it addresses,
// applying the provider's fallback heuristics when the id itself is absent.
// ok is false when no heuristic produces a member of the tree.
func (r *Resolver) Match(rawID string) (string, bool) {
	if r.contains(rawID) {
		return rawID, true
	}
	for _, fb := range r.opts.Fallbacks {
		if candidate, ok := fb(rawID, r.contains); ok {
			return candidate, true
		}
	}
	return "", false
}

// Lookup resolves a content id, possibly rewritten by the provider's
// fallback heuristics, to its root course. ok is false when the id cannot
// be matched to the tree after all fallbacks; the caller drops the event.
// Errors are integrity violations and abort the import.
func (r *Resolver) Lookup(rawID string) (domain.ResolvedCourse, bool, error) {
	id, matched := r.Match(rawID)
	if !matched {
		return domain.ResolvedCourse{}, false, nil
	}

	if entry, ok := r.memo[id]; ok {
		return entry.course, entry.ok, nil
	}

	course, ok, err := r.walk(id, map[string]bool{})
	if err != nil {
		return domain.ResolvedCourse{}, false, err
	}
	r.memo[id] = memoEntry{course: course, ok: ok}
	return course, ok, nil
}

// walk follows parent links to the root. visited guards against cycles,
// which the upstream dumps do not promise to be free of.
func (r *Resolver) walk(id string, visited map[string]bool) (domain.ResolvedCourse, bool, error) {
	if visited[id] {
		return domain.ResolvedCourse{}, false, fmt.Errorf("%w: at node %q", ErrCycle, id)
	}
	visited[id] = true

	node, ok := r.nodes[id]
	if !ok {
		// Parent referenced but absent from the dump: unresolvable, not fatal.
		return domain.ResolvedCourse{}, false, nil
	}

	if node.ParentID != "" {
		return r.walk(node.ParentID, visited)
	}

	label, ok := r.opts.TypeLabel(node.CourseTypeID)
	if !ok {
		return domain.ResolvedCourse{}, false, fmt.Errorf(
			"hierarchy: unknown course type code %q at root %q", node.CourseTypeID, node.ID)
	}
	provider, ok := r.opts.ProviderName(node.SystemCode)
	if !ok {
		return domain.ResolvedCourse{}, false, fmt.Errorf(
			"hierarchy: unknown system code %q at root %q", node.SystemCode, node.ID)
	}
	if label != r.opts.ExpectedLabel {
		return domain.ResolvedCourse{}, false, fmt.Errorf(
			"%w: root %q has type %q, want %q", ErrCourseType, node.ID, label, r.opts.ExpectedLabel)
	}

	return domain.ResolvedCourse{
		CourseName: node.CourseName,
		Provider:   provider,
		IsDeleted:  node.IsDeleted,
	}, true, nil
}

// CourseMapping is one row of the per-node resolution of a whole tree.
type CourseMapping struct {
	EducationalCourseID string
	CourseName          string
	Provider            string
	IsDeleted           bool
}

// Mapping resolves every node in the tree once. Unresolvable nodes are
// skipped and counted; integrity errors abort.
func (r *Resolver) Mapping() ([]CourseMapping, int, error) {
	ids := make([]string, 0, len(r.nodes))
	for id := range r.nodes {
		ids = append(ids, id)
	}
	// Stable order so reruns over unchanged dumps rebuild identical tables.
	sort.Strings(ids)

	out := make([]CourseMapping, 0, len(r.nodes))
	dropped := 0
	for _, id := range ids {
		course, ok, err := r.Lookup(id)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			dropped++
			continue
		}
		out = append(out, CourseMapping{
			EducationalCourseID: id,
			CourseName:          course.CourseName,
			Provider:            course.Provider,
			IsDeleted:           course.IsDeleted,
		})
	}
	return out, dropped, nil
}

// Len reports the number of indexed nodes.
func (r *Resolver) Len() int {
	return len(r.nodes)
}
