package model

import "strings"

const (
	topicSeparator = "/"
	alertLeaf      = "alert"
	singleLevel    = "+"
)

// Topics derives the relay's broker topics from a namespace root such as "corgidev/pet".
type Topics struct {
	root string
}

func NewTopics(root string) Topics {
	return Topics{root: strings.Trim(root, topicSeparator)}
}

// Root returns the normalized namespace root.
func (t Topics) Root() string { return t.root }

// Alert is the topic alert events are published on: "<root>/alert".
func (t Topics) Alert() string { return t.root + topicSeparator + alertLeaf }

// Subscription is the single-level wildcard covering the namespace: "<root>/+".
func (t Topics) Subscription() string { return t.root + topicSeparator + singleLevel }
