package normalize

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragsbio/rags/internal/graph"
)

// identityService is a canned stand-in for both normalization services.
// Nil map values render as JSON null; absent ids are omitted entirely.
type identityService struct {
	nodes      map[string]any
	predicates map[string]any
	versions   []string

	nodeStatus int
	predStatus int

	nodeRequests     int
	predRequests     int
	curiesPerRequest []int
	lastCuries       []string
	lastVersion      string
}

func (s *identityService) start(t *testing.T) *Normalizer {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/get_normalized_nodes", func(w http.ResponseWriter, r *http.Request) {
		s.nodeRequests++
		var body struct {
			Curies []string `json:"curies"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		s.lastCuries = body.Curies
		s.curiesPerRequest = append(s.curiesPerRequest, len(body.Curies))
		if s.nodeStatus != 0 {
			http.Error(w, "node service unavailable", s.nodeStatus)
			return
		}
		out := map[string]any{}
		for _, c := range body.Curies {
			if answer, known := s.nodes[c]; known {
				out[c] = answer
			}
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/resolve_predicate", func(w http.ResponseWriter, r *http.Request) {
		s.predRequests++
		s.lastVersion = r.URL.Query().Get("version")
		if s.predStatus != 0 {
			http.Error(w, "edge service unavailable", s.predStatus)
			return
		}
		out := map[string]any{}
		for _, p := range r.URL.Query()["predicate"] {
			if answer, known := s.predicates[p]; known {
				out[p] = answer
			}
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/versions", func(w http.ResponseWriter, r *http.Request) {
		if s.versions == nil {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(s.versions)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return NewNormalizer(server.URL, server.URL)
}

func diabetesAnswer() map[string]any {
	return map[string]any{
		"id": map[string]any{"identifier": "MONDO:0005148", "label": "type 2 diabetes mellitus"},
		"equivalent_identifiers": []any{
			map[string]any{"identifier": "MONDO:0005148", "label": "type 2 diabetes mellitus"},
			map[string]any{"identifier": "DOID:9352"},
		},
		"type": []string{"disease", "NamedThing"},
	}
}

func TestNormalizeNodes(t *testing.T) {
	svc := &identityService{nodes: map[string]any{
		"EFO:0001360": diabetesAnswer(),
		"FAKE:0":      nil,
	}}
	n := svc.start(t)

	got, err := n.NormalizeNodes(context.Background(), []string{"EFO:0001360", "FAKE:0", "MISSING:1"})
	require.NoError(t, err)
	require.Len(t, got, 3)

	node := got["EFO:0001360"]
	require.NotNil(t, node)
	assert.Equal(t, "MONDO:0005148", node.ID)
	assert.Equal(t, "type 2 diabetes mellitus", node.Name)
	assert.Equal(t, []string{"MONDO:0005148", "DOID:9352"}, node.Synonyms)
	assert.Equal(t, []string{"disease", "NamedThing"}, node.AllTypes)

	assert.Nil(t, got["FAKE:0"], "null answer maps to nil")
	assert.Nil(t, got["MISSING:1"], "omitted answer maps to nil")
}

func TestNormalizeNodesNameFallbacks(t *testing.T) {
	svc := &identityService{nodes: map[string]any{
		"CHEBI:1": map[string]any{
			"id": map[string]any{"identifier": "CHEBI:1"},
			"equivalent_identifiers": []any{
				map[string]any{"identifier": "CHEBI:1"},
				map[string]any{"identifier": "HMDB:HMDB01", "label": "glucose"},
			},
		},
		"CHEBI:2": map[string]any{
			"id": map[string]any{"identifier": "CHEBI:2"},
			"equivalent_identifiers": []any{
				map[string]any{"identifier": "KEGG:C2"},
			},
		},
	}}
	n := svc.start(t)

	got, err := n.NormalizeNodes(context.Background(), []string{"CHEBI:1", "CHEBI:2"})
	require.NoError(t, err)
	require.NotNil(t, got["CHEBI:1"])
	require.NotNil(t, got["CHEBI:2"])
	assert.Equal(t, "glucose", got["CHEBI:1"].Name, "first labeled synonym")
	assert.Equal(t, "2", got["CHEBI:2"].Name, "curie local part")
}

func TestNormalizeNodesNotFoundMapsBatchToNil(t *testing.T) {
	svc := &identityService{nodeStatus: http.StatusNotFound}
	n := svc.start(t)

	got, err := n.NormalizeNodes(context.Background(), []string{"A:1", "B:2"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Nil(t, got["A:1"])
	assert.Nil(t, got["B:2"])
}

func TestNormalizeNodesServerError(t *testing.T) {
	svc := &identityService{nodeStatus: http.StatusInternalServerError}
	n := svc.start(t)

	_, err := n.NormalizeNodes(context.Background(), []string{"A:1"})
	var nerr *NormalizationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, http.StatusInternalServerError, nerr.Status)
	assert.Contains(t, nerr.Body, "unavailable")
}

func TestNormalizeNodesMemoizesAndDeduplicates(t *testing.T) {
	ctx := context.Background()
	svc := &identityService{nodes: map[string]any{"EFO:0001360": diabetesAnswer()}}
	n := svc.start(t)

	_, err := n.NormalizeNodes(ctx, []string{"EFO:0001360", "EFO:0001360", "MISSING:1"})
	require.NoError(t, err)
	assert.Equal(t, 1, svc.nodeRequests)
	assert.Len(t, svc.lastCuries, 2, "duplicates collapse before the request")

	// overlapping call only fetches the new id; misses are memoized too
	got, err := n.NormalizeNodes(ctx, []string{"EFO:0001360", "MISSING:1", "MISSING:2"})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 2, svc.nodeRequests)
	assert.Equal(t, []string{"MISSING:2"}, svc.lastCuries)

	// fully memoized call issues no request at all
	_, err = n.NormalizeNodes(ctx, []string{"EFO:0001360", "MISSING:1", "MISSING:2"})
	require.NoError(t, err)
	assert.Equal(t, 2, svc.nodeRequests)
}

func TestNormalizeNodesChunks(t *testing.T) {
	svc := &identityService{}
	n := svc.start(t)

	ids := make([]string, 0, chunkSize+1)
	for i := 0; i <= chunkSize; i++ {
		ids = append(ids, fmt.Sprintf("FAKE:%d", i))
	}
	got, err := n.NormalizeNodes(context.Background(), ids)
	require.NoError(t, err)
	assert.Len(t, got, chunkSize+1)
	assert.Equal(t, []int{chunkSize, 1}, svc.curiesPerRequest)
}

func TestNormalizeVariantsForcesTypeSet(t *testing.T) {
	svc := &identityService{nodes: map[string]any{
		"HGVS:NC_000011.10:g.66560624A>G": map[string]any{
			"id": map[string]any{"identifier": "CAID:CA6146346", "label": "rs2275294"},
			"equivalent_identifiers": []any{
				map[string]any{"identifier": "CAID:CA6146346"},
				map[string]any{"identifier": "DBSNP:rs2275294"},
			},
			"type": []string{"some_service_type"},
		},
	}}
	n := svc.start(t)

	got, err := n.NormalizeVariants(context.Background(), []string{"HGVS:NC_000011.10:g.66560624A>G"})
	require.NoError(t, err)
	node := got["HGVS:NC_000011.10:g.66560624A>G"]
	require.NotNil(t, node)
	assert.Equal(t, "CAID:CA6146346", node.ID)
	assert.Equal(t, graph.VariantTypes(), node.AllTypes)
}

func TestNormalizePredicates(t *testing.T) {
	ctx := context.Background()
	svc := &identityService{
		predicates: map[string]any{
			"RO:0002610": map[string]any{"identifier": "biolink:correlated_with"},
			"RO:0000052": nil,
		},
		versions: []string{"1.0", "1.5", "latest"},
	}
	n := svc.start(t)

	got, err := n.NormalizePredicates(ctx, []string{"RO:0002610", "RO:0000052", "SEMMEDDB:CAUSES"})
	require.NoError(t, err)
	assert.Equal(t, "biolink:correlated_with", got["RO:0002610"])
	assert.Equal(t, DefaultPredicate, got["RO:0000052"], "null answer falls back")
	assert.Equal(t, DefaultPredicate, got["SEMMEDDB:CAUSES"], "omitted answer falls back")
	assert.Equal(t, "1.5", svc.lastVersion, "second-to-last version is current stable")

	// memoized second call issues no request
	requests := svc.predRequests
	_, err = n.NormalizePredicates(ctx, []string{"RO:0002610"})
	require.NoError(t, err)
	assert.Equal(t, requests, svc.predRequests)
}

func TestNormalizePredicatesNotFound(t *testing.T) {
	svc := &identityService{predStatus: http.StatusNotFound}
	n := svc.start(t)

	got, err := n.NormalizePredicates(context.Background(), []string{"RO:0002610"})
	require.NoError(t, err)
	assert.Equal(t, DefaultPredicate, got["RO:0002610"])
}

func TestNormalizePredicatesServerError(t *testing.T) {
	svc := &identityService{predStatus: http.StatusBadGateway}
	n := svc.start(t)

	_, err := n.NormalizePredicates(context.Background(), []string{"RO:0002610"})
	var nerr *NormalizationError
	require.ErrorAs(t, err, &nerr)
	assert.Equal(t, http.StatusBadGateway, nerr.Status)
}

func TestNormalizerSurvivesMissingVersionEndpoint(t *testing.T) {
	svc := &identityService{predicates: map[string]any{}}
	n := svc.start(t)

	got, err := n.NormalizePredicates(context.Background(), []string{"RO:0002610"})
	require.NoError(t, err)
	assert.Equal(t, DefaultPredicate, got["RO:0002610"])
	assert.Empty(t, svc.lastVersion)
}
