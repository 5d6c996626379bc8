package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
)

const (
	defaultBufferSize = 10000

	// writtenClearThreshold bounds the written-node set. Clearing it costs
	// redundant MERGEs on re-written nodes, which are idempotent.
	writtenClearThreshold = 100000
)

// Cypher is the surface the writer needs from the graph store.
type Cypher interface {
	Session(ctx context.Context) CypherSession
}

// CypherSession runs write statements until closed.
type CypherSession interface {
	Run(ctx context.Context, cypher string, params map[string]any) error
	Close(ctx context.Context) error
}

// BufferedWriter accumulates nodes and edges and writes them in batches:
// nodes queued by their canonical type set, edges by predicate. A node id
// written once in the writer's lifetime is not queued again. Close flushes
// whatever remains, so the writer is safe to use as a scoped resource.
type BufferedWriter struct {
	db Cypher

	writtenNodes map[string]struct{}
	nodeQueues   map[string][]*Node
	nodeTypes    map[string][]string
	edgeQueues   map[string][]*Edge

	bufferSize int
	logger     *zap.Logger
}

// NewBufferedWriter creates a writer flushing through db.
func NewBufferedWriter(db Cypher) *BufferedWriter {
	return &BufferedWriter{
		db:           db,
		writtenNodes: make(map[string]struct{}),
		nodeQueues:   make(map[string][]*Node),
		nodeTypes:    make(map[string][]string),
		edgeQueues:   make(map[string][]*Edge),
		bufferSize:   defaultBufferSize,
		logger:       zap.NewNop(),
	}
}

// SetLogger routes writer logging to l instead of the default no-op logger.
func (w *BufferedWriter) SetLogger(l *zap.Logger) {
	w.logger = l
}

// SetBufferSize overrides the per-queue flush threshold.
func (w *BufferedWriter) SetBufferSize(n int) {
	if n > 0 {
		w.bufferSize = n
	}
}

// WriteNode queues a node for upsert. Nil nodes and ids already written in
// this writer's lifetime are skipped.
func (w *BufferedWriter) WriteNode(ctx context.Context, node *Node) error {
	if node == nil || node.ID == "" {
		return nil
	}
	if _, done := w.writtenNodes[node.ID]; done {
		return nil
	}
	w.writtenNodes[node.ID] = struct{}{}
	if len(w.writtenNodes) >= writtenClearThreshold {
		w.writtenNodes = make(map[string]struct{})
	}

	types := canonicalTypes(node.AllTypes)
	key := strings.Join(types, "|")
	if _, ok := w.nodeTypes[key]; !ok {
		w.nodeTypes[key] = types
	}
	w.nodeQueues[key] = append(w.nodeQueues[key], node)
	if len(w.nodeQueues[key]) >= w.bufferSize {
		return w.Flush(ctx)
	}
	return nil
}

// WriteEdge queues an edge for creation. Edges are never deduplicated here;
// edge identity is left to the graph semantics.
func (w *BufferedWriter) WriteEdge(ctx context.Context, edge *Edge) error {
	if edge == nil {
		return nil
	}
	if edge.Predicate == "" {
		return fmt.Errorf("edge %s -> %s has no predicate", edge.SubjectID, edge.ObjectID)
	}
	w.edgeQueues[edge.Predicate] = append(w.edgeQueues[edge.Predicate], edge)
	if len(w.edgeQueues[edge.Predicate]) >= w.bufferSize {
		return w.Flush(ctx)
	}
	return nil
}

// Flush drains every non-empty queue through a single session, one batched
// transaction per queue. Queues that fail stay intact for a retry.
func (w *BufferedWriter) Flush(ctx context.Context) error {
	if len(w.nodeQueues) == 0 && len(w.edgeQueues) == 0 {
		return nil
	}

	sess := w.db.Session(ctx)
	defer sess.Close(ctx)

	for _, key := range sortedKeys(w.nodeQueues) {
		nodes := w.nodeQueues[key]
		types := w.nodeTypes[key]
		if err := sess.Run(ctx, nodeBatchCypher(types), nodeBatchParams(nodes, types)); err != nil {
			return fmt.Errorf("write %d nodes (%s): %w", len(nodes), key, err)
		}
		w.logger.Debug("wrote node batch", zap.String("types", key), zap.Int("count", len(nodes)))
		delete(w.nodeQueues, key)
		delete(w.nodeTypes, key)
	}

	for _, predicate := range sortedKeys(w.edgeQueues) {
		edges := w.edgeQueues[predicate]
		if err := sess.Run(ctx, edgeBatchCypher(predicate), edgeBatchParams(edges)); err != nil {
			return fmt.Errorf("write %d edges (%s): %w", len(edges), predicate, err)
		}
		w.logger.Debug("wrote edge batch", zap.String("predicate", predicate), zap.Int("count", len(edges)))
		delete(w.edgeQueues, predicate)
	}
	return nil
}

// Close flushes anything still queued.
func (w *BufferedWriter) Close(ctx context.Context) error {
	return w.Flush(ctx)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func nodeBatchCypher(types []string) string {
	var b strings.Builder
	b.WriteString("UNWIND $batch AS node\n")
	b.WriteString("MERGE (a:`" + RootType + "` {id: node.id})")
	for _, t := range types {
		b.WriteString(" ON CREATE SET a:`" + t + "`")
	}
	b.WriteString(" ON CREATE SET a += node.properties")
	return b.String()
}

func nodeBatchParams(nodes []*Node, types []string) map[string]any {
	batch := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		props := make(map[string]any, len(n.Properties)+3)
		for k, v := range n.Properties {
			props[k] = v
		}
		props["equivalent_identifiers"] = append([]string{}, n.Synonyms...)
		props["category"] = types
		props["name"] = n.Name
		batch = append(batch, map[string]any{"id": n.ID, "properties": props})
	}
	return map[string]any{"batch": batch}
}

func edgeBatchCypher(predicate string) string {
	return "UNWIND $edge_batch AS edge\n" +
		"MATCH (a:`" + RootType + "` {id: edge.subject_id}),(b:`" + RootType + "` {id: edge.object_id})\n" +
		"CREATE (a)-[r:`" + predicate + "` {" +
		"project_id: edge.project_id, project_name: edge.project_name, " +
		"namespace: edge.namespace, original_object_id: edge.original_object_id, " +
		"relation: edge.relation, provided_by: edge.provided_by}]->(b)\n" +
		"SET r += edge.properties"
}

func edgeBatchParams(edges []*Edge) map[string]any {
	batch := make([]map[string]any, 0, len(edges))
	for _, e := range edges {
		props := e.Properties
		if props == nil {
			props = map[string]any{}
		}
		batch = append(batch, map[string]any{
			"subject_id":         e.SubjectID,
			"object_id":          e.ObjectID,
			"original_object_id": e.OriginalObjectID,
			"relation":           e.Relation,
			"provided_by":        e.ProvidedBy,
			"namespace":          e.Namespace,
			"project_id":         e.ProjectID,
			"project_name":       e.ProjectName,
			"properties":         props,
		})
	}
	return map[string]any{"edge_batch": batch}
}
