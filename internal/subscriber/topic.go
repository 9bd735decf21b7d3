package subscriber

import (
	"fmt"
	"strings"
	"sync"
)

// Subscription is a registered topic filter and its QoS level
type Subscription struct {
	Topic string
	QoS   byte
}

// filterSet holds the registered filters of a connection. Exact filters are
// kept in a map, wildcard filters in a prefix tree.
type filterSet struct {
	exact     map[string]byte
	wildcards *topicNode
	order     []string
	mu        sync.RWMutex
}

// topicNode is a node of the wildcard tree
type topicNode struct {
	isEnd    bool
	qos      byte
	children map[string]*topicNode
}

func newTopicNode() *topicNode {
	return &topicNode{children: make(map[string]*topicNode)}
}

func newFilterSet() *filterSet {
	return &filterSet{
		exact:     make(map[string]byte),
		wildcards: newTopicNode(),
	}
}

// add registers a filter. Adding an existing filter replaces its QoS; the
// previous QoS is returned so the caller can undo the change.
func (fs *filterSet) add(filter string, qos byte) (prev byte, existed bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if existed = fs.containsLocked(filter); existed {
		prev = fs.qosLocked(filter)
	} else {
		fs.order = append(fs.order, filter)
	}

	if !containsWildcard(filter) {
		fs.exact[filter] = qos
		return prev, existed
	}

	node := fs.wildcards
	for _, segment := range strings.Split(filter, "/") {
		child, ok := node.children[segment]
		if !ok {
			child = newTopicNode()
			node.children[segment] = child
		}
		node = child
	}
	node.isEnd = true
	node.qos = qos
	return prev, existed
}

// remove unregisters a filter. Tree nodes are kept; only the end marker goes.
func (fs *filterSet) remove(filter string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for i, f := range fs.order {
		if f == filter {
			fs.order = append(fs.order[:i], fs.order[i+1:]...)
			break
		}
	}

	if !containsWildcard(filter) {
		delete(fs.exact, filter)
		return
	}

	node := fs.wildcards
	for _, segment := range strings.Split(filter, "/") {
		node = node.children[segment]
		if node == nil {
			return
		}
	}
	node.isEnd = false
	node.qos = 0
}

func (fs *filterSet) containsLocked(filter string) bool {
	for _, f := range fs.order {
		if f == filter {
			return true
		}
	}
	return false
}

// matches reports whether topic matches at least one registered filter
func (fs *filterSet) matches(topic string) bool {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if _, ok := fs.exact[topic]; ok {
		return true
	}

	segments := strings.Split(topic, "/")

	// Wildcards at the first level never match topics reserved by the broker
	root := fs.wildcards
	if strings.HasPrefix(topic, "$") {
		root = newTopicNode()
		for segment, child := range fs.wildcards.children {
			if segment != "+" && segment != "#" {
				root.children[segment] = child
			}
		}
	}

	return matchNode(root, segments, 0)
}

// matchNode walks the tree following exact segments and wildcards
func matchNode(node *topicNode, segments []string, depth int) bool {
	if node == nil {
		return false
	}

	// # also matches the parent level
	if wildcard, ok := node.children["#"]; ok && wildcard.isEnd {
		return true
	}

	if depth == len(segments) {
		return node.isEnd
	}

	segment := segments[depth]
	if child, ok := node.children[segment]; ok && matchNode(child, segments, depth+1) {
		return true
	}
	if child, ok := node.children["+"]; ok && matchNode(child, segments, depth+1) {
		return true
	}
	return false
}

// list returns the registered filters in registration order
func (fs *filterSet) list() []Subscription {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	subs := make([]Subscription, 0, len(fs.order))
	for _, filter := range fs.order {
		subs = append(subs, Subscription{Topic: filter, QoS: fs.qosLocked(filter)})
	}
	return subs
}

func (fs *filterSet) qosLocked(filter string) byte {
	if qos, ok := fs.exact[filter]; ok {
		return qos
	}
	node := fs.wildcards
	for _, segment := range strings.Split(filter, "/") {
		node = node.children[segment]
		if node == nil {
			return 0
		}
	}
	return node.qos
}

func containsWildcard(topic string) bool {
	return strings.ContainsAny(topic, "+#")
}

// ValidateFilter checks a subscription topic filter against the MQTT
// wildcard rules.
func ValidateFilter(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if strings.ContainsRune(topic, 0) {
		return fmt.Errorf("%w: topic contains a null character", ErrInvalidTopic)
	}

	segments := strings.Split(topic, "/")
	for i, segment := range segments {
		// Allow empty segments for leading/trailing slashes
		if segment == "" && i != 0 && i != len(segments)-1 {
			return fmt.Errorf("%w: empty segment not allowed in middle of topic", ErrInvalidTopic)
		}

		if strings.Contains(segment, "#") {
			if segment != "#" {
				return fmt.Errorf("%w: # wildcard must occupy entire segment", ErrInvalidTopic)
			}
			if i != len(segments)-1 {
				return fmt.Errorf("%w: # wildcard must be the last segment", ErrInvalidTopic)
			}
		}

		if strings.Contains(segment, "+") && segment != "+" {
			return fmt.Errorf("%w: + wildcard must occupy entire segment", ErrInvalidTopic)
		}
	}

	return nil
}
