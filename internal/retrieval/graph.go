package retrieval

import (
	"sort"
)

// Node types.
const (
	NodeTopic    = "topic"
	NodeDocument = "document"
	NodeEntity   = "entity"
)

// Edge types.
const (
	EdgeContains = "contains"
	EdgeMentions = "mentions"
)

// Node is a knowledge graph vertex.
type Node struct {
	ID       string  `json:"id"`
	Type     string  `json:"type"`
	Label    string  `json:"label"`
	Category string  `json:"category,omitempty"`
	Weight   float64 `json:"weight"`
	Count    int     `json:"count"`
}

// Edge is a directed, typed relation.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

// KnowledgeGraph links the topic to documents and documents to the entities they
// mention.
type KnowledgeGraph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// BuildGraph assembles the graph for records. Document nodes are keyed by record
// ID and edges are unique, so repeated records add nothing and building twice from
// the same input yields the same graph. An entity's weight is the highest
// confidence it was seen with and its count is the number of documents mentioning it.
func BuildGraph(topic string, records []Record) *KnowledgeGraph {
	g := &KnowledgeGraph{}
	index := make(map[string]int)
	edges := make(map[Edge]struct{})

	addNode := func(n Node) int {
		if i, ok := index[n.ID]; ok {
			return i
		}
		index[n.ID] = len(g.Nodes)
		g.Nodes = append(g.Nodes, n)
		return len(g.Nodes) - 1
	}
	addEdge := func(e Edge) bool {
		if _, ok := edges[e]; ok {
			return false
		}
		edges[e] = struct{}{}
		g.Edges = append(g.Edges, e)
		return true
	}

	topicID := "topic:" + topic
	addNode(Node{ID: topicID, Type: NodeTopic, Label: topic, Weight: 1, Count: 1})

	for _, r := range records {
		docID := "doc:" + r.ID
		addNode(Node{ID: docID, Type: NodeDocument, Label: r.Source.Title, Category: r.Category, Weight: r.Confidence, Count: 1})
		addEdge(Edge{From: topicID, To: docID, Type: EdgeContains})

		for _, e := range r.Entities.All() {
			label := e.Value
			if e.Key != "" {
				label = e.Key + ": " + e.Value
			}
			entID := "entity:" + label
			i := addNode(Node{ID: entID, Type: NodeEntity, Label: label, Category: e.Type})
			if addEdge(Edge{From: docID, To: entID, Type: EdgeMentions}) {
				g.Nodes[i].Count++
			}
			if e.Confidence > g.Nodes[i].Weight {
				g.Nodes[i].Weight = e.Confidence
			}
		}
	}
	return g
}

// TopEntities returns up to n entity nodes ordered by weight, then count, then label.
func (g *KnowledgeGraph) TopEntities(n int) []Node {
	var ents []Node
	for _, node := range g.Nodes {
		if node.Type == NodeEntity {
			ents = append(ents, node)
		}
	}
	sort.SliceStable(ents, func(i, j int) bool {
		if ents[i].Weight != ents[j].Weight {
			return ents[i].Weight > ents[j].Weight
		}
		if ents[i].Count != ents[j].Count {
			return ents[i].Count > ents[j].Count
		}
		return ents[i].Label < ents[j].Label
	})
	if n > 0 && len(ents) > n {
		ents = ents[:n]
	}
	return ents
}

// CountByType returns how many nodes of each type the graph holds.
func (g *KnowledgeGraph) CountByType() map[string]int {
	out := make(map[string]int)
	for _, n := range g.Nodes {
		out[n.Type]++
	}
	return out
}
