package k8s

import (
	"strings"
)

// SelectorElement renders one term of a k8s label selector.
type SelectorElement interface {
	QueryString(key string) string
}

// EqualityBased selects by (in)equality of a label value.
//
// Values may be prefixed with "=", "==" or "!=". No prefix means equality.
type EqualityBased string

var _ SelectorElement = EqualityBased("")

func (e EqualityBased) QueryString(key string) string {
	value := string(e)
	switch {
	case strings.HasPrefix(value, "!="):
		return key + "!=" + value[2:]
	case strings.HasPrefix(value, "=="):
		return key + "=" + value[2:]
	case strings.HasPrefix(value, "="):
		return key + "=" + value[1:]
	default:
		return key + "=" + value
	}
}

func (e EqualityBased) Equal(other SelectorElement) bool {
	o, ok := other.(EqualityBased)
	return ok && o == e
}

type LabelSelector map[string]SelectorElement

func (ls LabelSelector) QueryString() string {
	terms := make([]string, 0, len(ls))
	for key, sel := range ls {
		terms = append(terms, sel.QueryString(key))
	}
	return strings.Join(terms, ",")
}

func LabelsToSelector(labels map[string]string) LabelSelector {
	ls := LabelSelector{}
	for key, value := range labels {
		ls[key] = EqualityBased(value)
	}
	return ls
}
