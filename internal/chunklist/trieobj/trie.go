// Package trieobj implements TrieObjectMap: a radix/Merkle trie over
// byte-sequence keys to ObjIds (spec §3, §4.4). Each node is itself a
// named object, so a published trie is addressable and lazily
// loadable the same way any other named object is, through the same
// Resolver contract internal/ndnobject's inner-path walk uses.
package trieobj

import (
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/buckyos/ndncore/internal/chunkid"
	"github.com/buckyos/ndncore/internal/ndnerr"
	"github.com/buckyos/ndncore/internal/ndnobject"
)

// ObjType is the obj_type tag a trie node's canonical encoding carries.
const ObjType = "trie-node"

// Edge is one (byte, child node id) pair out of a trie node, per spec
// §4.4: "Node encoding: { prefix, children: [(byte, child_node_id)],
// value?: ObjId }".
type Edge struct {
	Byte  byte
	Child ndnobject.ObjId
}

// Node is one trie node's published form.
type Node struct {
	Prefix   []byte
	Children []Edge
	Value    *ndnobject.ObjId
}

// canonicalValue renders prefix as hex and children sorted by byte,
// matching the DESIGN.md decision for TrieObjectMap node encoding.
func (n *Node) canonicalValue() map[string]any {
	children := make([]any, len(n.Children))
	edges := append([]Edge(nil), n.Children...)
	sort.Slice(edges, func(i, j int) bool { return edges[i].Byte < edges[j].Byte })
	for i, e := range edges {
		children[i] = []any{int(e.Byte), e.Child.String()}
	}
	v := map[string]any{
		"prefix":   hex.EncodeToString(n.Prefix),
		"children": children,
	}
	if n.Value != nil {
		v["value"] = n.Value.String()
	}
	return v
}

// BuildObject canonicalizes n and returns its ObjId (the node's
// content-derived identity, giving the trie its Merkle property:
// changing any leaf changes every ancestor's id up to the root).
func (n *Node) BuildObject(algo chunkid.Algo) (ndnobject.ObjId, string, error) {
	return ndnobject.BuildNamedObjectByJSON(ObjType, n.canonicalValue(), algo)
}

// Sink persists a trie node's canonical form as it is built, typically
// backed by NamedDataMgr's object store (spec §4.5's put_object).
type Sink interface {
	PutObject(id ndnobject.ObjId, canonical string) error
}

// entry is one key/value pair pending insertion into the builder trie.
type entry struct {
	key   []byte
	value ndnobject.ObjId
}

// Builder accumulates key/value pairs then materializes a compressed
// (Patricia) radix trie and publishes every node through a Sink.
type Builder struct {
	algo    chunkid.Algo
	entries []entry
}

// NewBuilder starts a trie builder hashing nodes with algo.
func NewBuilder(algo chunkid.Algo) *Builder {
	return &Builder{algo: algo}
}

// Put stages a key -> value mapping. Later Put calls with the same
// key overwrite earlier ones.
func (b *Builder) Put(key []byte, value ndnobject.ObjId) *Builder {
	b.entries = append(b.entries, entry{key: append([]byte(nil), key...), value: value})
	return b
}

// buildNode is the in-memory (unpublished) trie shape used while
// inserting, before post-order hashing turns it into published Nodes.
type buildNode struct {
	prefix   []byte
	children map[byte]*buildNode
	value    *ndnobject.ObjId
}

func newBuildNode(prefix []byte) *buildNode {
	return &buildNode{prefix: prefix, children: make(map[byte]*buildNode)}
}

func (n *buildNode) insert(key []byte, value ndnobject.ObjId) {
	if len(key) == 0 {
		v := value
		n.value = &v
		return
	}
	head := key[0]
	child, ok := n.children[head]
	if !ok {
		child = newBuildNode(key)
		child.value = &value
		n.children[head] = child
		return
	}

	common := commonPrefixLen(child.prefix, key)
	if common == len(child.prefix) {
		child.insert(key[common:], value)
		return
	}

	// Split child.prefix at the divergence point so the trie stays
	// compressed (Patricia-style) rather than growing one node per byte.
	split := newBuildNode(child.prefix[:common])
	split.children = map[byte]*buildNode{child.prefix[common]: child}
	child.prefix = child.prefix[common:]
	n.children[head] = split

	if common == len(key) {
		v := value
		split.value = &v
	} else {
		split.children[key[common]] = &buildNode{prefix: key[common:], children: make(map[byte]*buildNode), value: &value}
	}
}

func commonPrefixLen(a, b []byte) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// Build materializes the trie from every staged Put and publishes each
// node to sink, returning the root's ObjId.
func (b *Builder) Build(sink Sink) (ndnobject.ObjId, error) {
	root := newBuildNode(nil)
	for _, e := range b.entries {
		root.insert(e.key, e.value)
	}
	return publish(root, b.algo, sink)
}

func publish(n *buildNode, algo chunkid.Algo, sink Sink) (ndnobject.ObjId, error) {
	edges := make([]Edge, 0, len(n.children))
	keys := make([]byte, 0, len(n.children))
	for k := range n.children {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	for _, k := range keys {
		childID, err := publish(n.children[k], algo, sink)
		if err != nil {
			return ndnobject.ObjId{}, err
		}
		edges = append(edges, Edge{Byte: k, Child: childID})
	}

	node := &Node{Prefix: n.prefix, Children: edges, Value: n.value}
	id, canonical, err := node.BuildObject(algo)
	if err != nil {
		return ndnobject.ObjId{}, err
	}
	if err := sink.PutObject(id, canonical); err != nil {
		return ndnobject.ObjId{}, ndnerr.Wrap(ndnerr.ErrDbError, "trieobj: publish node", err)
	}
	return id, nil
}

// Resolver fetches a published node's canonical form by id, the same
// contract ndnobject.Resolver uses for inner-path resolution.
type Resolver interface {
	ResolveObject(id ndnobject.ObjId) (canonical string, err error)
}

// Lookup descends a published trie rooted at rootID looking for key,
// returning the leaf ObjId if found.
func Lookup(resolver Resolver, rootID ndnobject.ObjId, key []byte) (*ndnobject.ObjId, error) {
	currentID := rootID
	remaining := key

	for {
		canonical, err := resolver.ResolveObject(currentID)
		if err != nil {
			return nil, err
		}
		node, err := decodeNode(canonical)
		if err != nil {
			return nil, err
		}

		if len(remaining) < len(node.Prefix) || !bytesEqual(remaining[:len(node.Prefix)], node.Prefix) {
			return nil, ndnerr.Wrap(ndnerr.ErrNotFound, "trieobj: key not found", nil)
		}
		remaining = remaining[len(node.Prefix):]

		if len(remaining) == 0 {
			if node.Value == nil {
				return nil, ndnerr.Wrap(ndnerr.ErrNotFound, "trieobj: key has no value at terminal node", nil)
			}
			return node.Value, nil
		}

		head := remaining[0]
		var next *ndnobject.ObjId
		for _, e := range node.Children {
			if e.Byte == head {
				id := e.Child
				next = &id
				break
			}
		}
		if next == nil {
			return nil, ndnerr.Wrap(ndnerr.ErrNotFound, "trieobj: key not found", nil)
		}
		currentID = *next
	}
}

func decodeNode(canonical string) (*Node, error) {
	decoded, err := ndnobject.Decode(canonical)
	if err != nil {
		return nil, err
	}
	obj, ok := decoded.(map[string]any)
	if !ok {
		return nil, ndnerr.Wrap(ndnerr.ErrParseError, "trieobj: node is not a JSON object", nil)
	}

	prefixHex, _ := obj["prefix"].(string)
	prefix, err := hex.DecodeString(prefixHex)
	if err != nil {
		return nil, ndnerr.Wrap(ndnerr.ErrParseError, "trieobj: decode node prefix", err)
	}

	node := &Node{Prefix: prefix}
	if rawChildren, ok := obj["children"].([]any); ok {
		for _, c := range rawChildren {
			pair, ok := c.([]any)
			if !ok || len(pair) != 2 {
				return nil, ndnerr.Wrap(ndnerr.ErrParseError, "trieobj: malformed child edge", nil)
			}
			byteNum, ok := pair[0].(json.Number)
			if !ok {
				return nil, ndnerr.Wrap(ndnerr.ErrParseError, "trieobj: malformed child byte", nil)
			}
			b, err := byteNum.Int64()
			if err != nil {
				return nil, ndnerr.Wrap(ndnerr.ErrParseError, "trieobj: malformed child byte value", err)
			}
			childText, ok := pair[1].(string)
			if !ok {
				return nil, ndnerr.Wrap(ndnerr.ErrParseError, "trieobj: malformed child id", nil)
			}
			childID, err := ndnobject.ParseObjId(childText)
			if err != nil {
				return nil, err
			}
			node.Children = append(node.Children, Edge{Byte: byte(b), Child: childID})
		}
	}

	if valueText, ok := obj["value"].(string); ok {
		id, err := ndnobject.ParseObjId(valueText)
		if err != nil {
			return nil, err
		}
		node.Value = &id
	}

	return node, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
