// Package normalize resolves biological identifiers and edge predicates
// against the node and edge normalization services. Lookups are deduplicated,
// chunked, and memoized for the lifetime of a Normalizer.
package normalize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ragsbio/rags/internal/graph"
)

// chunkSize caps the number of identifiers per service request.
const chunkSize = 1000

// DefaultPredicate is the fallback when the edge service has no mapping
// for a predicate.
const DefaultPredicate = "biolink:related_to"

// NormalizationError reports a service response that cannot be interpreted:
// any status other than 200 or 404.
type NormalizationError struct {
	Status int
	Body   string
}

func (e *NormalizationError) Error() string {
	return fmt.Sprintf("normalization service error (status %d): %s", e.Status, e.Body)
}

// Normalizer is a client for the two identity services. It is not safe for
// concurrent use; a build owns one instance and its caches.
type Normalizer struct {
	nodeBase string
	edgeBase string
	client   *http.Client
	logger   *zap.Logger

	version       string
	versionProbed bool

	nodeMemo      map[string]*graph.Node
	variantMemo   map[string]*graph.Node
	predicateMemo map[string]string
}

// NewNormalizer creates a client for the node and edge normalization
// services rooted at the given base URLs.
func NewNormalizer(nodeEndpoint, edgeEndpoint string) *Normalizer {
	return &Normalizer{
		nodeBase:      strings.TrimRight(nodeEndpoint, "/"),
		edgeBase:      strings.TrimRight(edgeEndpoint, "/"),
		client:        &http.Client{Timeout: 30 * time.Second},
		logger:        zap.NewNop(),
		nodeMemo:      make(map[string]*graph.Node),
		variantMemo:   make(map[string]*graph.Node),
		predicateMemo: make(map[string]string),
	}
}

// SetLogger routes normalizer logging to l instead of the default no-op logger.
func (n *Normalizer) SetLogger(l *zap.Logger) {
	n.logger = l
}

// NormalizeNodes resolves identifiers against the node service. The result
// maps every requested id to its normalized node, or to nil when the service
// has no answer. Returned nodes are shared between calls; callers must not
// modify them.
func (n *Normalizer) NormalizeNodes(ctx context.Context, ids []string) (map[string]*graph.Node, error) {
	return n.normalize(ctx, ids, n.nodeMemo, nil)
}

// NormalizeVariants resolves sequence variant identifiers. The wire call is
// the same as NormalizeNodes, but resulting nodes carry the fixed sequence
// variant type set regardless of what the service reports.
func (n *Normalizer) NormalizeVariants(ctx context.Context, ids []string) (map[string]*graph.Node, error) {
	return n.normalize(ctx, ids, n.variantMemo, graph.VariantTypes())
}

func (n *Normalizer) normalize(ctx context.Context, ids []string, memo map[string]*graph.Node, forcedTypes []string) (map[string]*graph.Node, error) {
	results := make(map[string]*graph.Node, len(ids))
	seen := make(map[string]bool, len(ids))
	var missing []string
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if node, ok := memo[id]; ok {
			results[id] = node
			continue
		}
		missing = append(missing, id)
	}

	for start := 0; start < len(missing); start += chunkSize {
		chunk := missing[start:min(start+chunkSize, len(missing))]
		resolved, err := n.fetchNodeChunk(ctx, chunk, forcedTypes)
		if err != nil {
			return nil, err
		}
		for id, node := range resolved {
			memo[id] = node
			results[id] = node
		}
	}
	return results, nil
}

func (n *Normalizer) fetchNodeChunk(ctx context.Context, ids []string, forcedTypes []string) (map[string]*graph.Node, error) {
	body, err := json.Marshal(map[string][]string{"curies": ids})
	if err != nil {
		return nil, fmt.Errorf("encode curie batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.nodeBase+"/get_normalized_nodes", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build node normalization request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("node normalization request: %w", err)
	}
	defer resp.Body.Close()

	out := make(map[string]*graph.Node, len(ids))
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		// the service reports an unknown batch as a whole
		for _, id := range ids {
			out[id] = nil
		}
		return out, nil
	default:
		msg, _ := io.ReadAll(resp.Body)
		return nil, &NormalizationError{Status: resp.StatusCode, Body: string(msg)}
	}

	var entries map[string]*nodeAnswer
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode node normalization response: %w", err)
	}
	for _, id := range ids {
		answer := entries[id]
		if answer == nil || answer.ID.Identifier == "" {
			out[id] = nil
			continue
		}
		out[id] = answer.toNode(forcedTypes)
	}
	n.logger.Debug("normalized node chunk", zap.Int("requested", len(ids)))
	return out, nil
}

type labeledID struct {
	Identifier string `json:"identifier"`
	Label      string `json:"label"`
}

type nodeAnswer struct {
	ID                    labeledID   `json:"id"`
	EquivalentIdentifiers []labeledID `json:"equivalent_identifiers"`
	Types                 []string    `json:"type"`
}

// toNode converts a service answer. The node name is the main identifier's
// label, else the first labeled synonym, else the curie's local part.
func (a *nodeAnswer) toNode(forcedTypes []string) *graph.Node {
	name := a.ID.Label
	synonyms := make([]string, 0, len(a.EquivalentIdentifiers))
	for _, syn := range a.EquivalentIdentifiers {
		synonyms = append(synonyms, syn.Identifier)
		if name == "" && syn.Label != "" {
			name = syn.Label
		}
	}
	if name == "" {
		name = unCurie(a.ID.Identifier)
	}

	types := a.Types
	if forcedTypes != nil {
		types = forcedTypes
	}
	return &graph.Node{
		ID:       a.ID.Identifier,
		Name:     name,
		AllTypes: types,
		Synonyms: synonyms,
	}
}

// NormalizePredicates resolves relation curies to biolink predicates via the
// edge service. Every requested predicate gets an answer; unknown ones map
// to DefaultPredicate.
func (n *Normalizer) NormalizePredicates(ctx context.Context, predicates []string) (map[string]string, error) {
	n.ensureVersion(ctx)

	results := make(map[string]string, len(predicates))
	seen := make(map[string]bool, len(predicates))
	var missing []string
	for _, p := range predicates {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		if resolved, ok := n.predicateMemo[p]; ok {
			results[p] = resolved
			continue
		}
		missing = append(missing, p)
	}

	for start := 0; start < len(missing); start += chunkSize {
		chunk := missing[start:min(start+chunkSize, len(missing))]
		resolved, err := n.fetchPredicateChunk(ctx, chunk)
		if err != nil {
			return nil, err
		}
		for p, v := range resolved {
			n.predicateMemo[p] = v
			results[p] = v
		}
	}
	return results, nil
}

func (n *Normalizer) fetchPredicateChunk(ctx context.Context, predicates []string) (map[string]string, error) {
	q := url.Values{}
	for _, p := range predicates {
		q.Add("predicate", p)
	}
	if n.version != "" {
		q.Set("version", n.version)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.edgeBase+"/resolve_predicate?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build predicate request: %w", err)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("predicate normalization request: %w", err)
	}
	defer resp.Body.Close()

	out := make(map[string]string, len(predicates))
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		for _, p := range predicates {
			out[p] = DefaultPredicate
		}
		return out, nil
	default:
		msg, _ := io.ReadAll(resp.Body)
		return nil, &NormalizationError{Status: resp.StatusCode, Body: string(msg)}
	}

	var entries map[string]*labeledID
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode predicate response: %w", err)
	}
	for _, p := range predicates {
		if answer := entries[p]; answer != nil && answer.Identifier != "" {
			out[p] = answer.Identifier
		} else {
			out[p] = DefaultPredicate
		}
	}
	return out, nil
}

// ensureVersion probes the edge service once for its version list; the
// second-to-last entry is the current stable release. The probe is best
// effort: on failure predicate lookups run unversioned.
func (n *Normalizer) ensureVersion(ctx context.Context) {
	if n.versionProbed {
		return
	}
	n.versionProbed = true

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.edgeBase+"/versions", nil)
	if err != nil {
		return
	}
	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("edge normalization version probe failed", zap.Error(err))
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		n.logger.Warn("edge normalization version probe failed", zap.Int("status", resp.StatusCode))
		return
	}

	var versions []string
	if err := json.NewDecoder(resp.Body).Decode(&versions); err != nil {
		n.logger.Warn("edge normalization version list unreadable", zap.Error(err))
		return
	}
	if len(versions) >= 2 {
		n.version = versions[len(versions)-2]
		n.logger.Debug("edge normalization version resolved", zap.String("version", n.version))
	}
}

// unCurie returns the local part of a curie, everything after the first colon.
func unCurie(curie string) string {
	if _, local, ok := strings.Cut(curie, ":"); ok {
		return local
	}
	return curie
}
