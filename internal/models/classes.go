package models

import (
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

const (
	ClassShoplifting = "shoplifting"
	ClassNormal      = "normal"
)

// ClassTable maps detector class indices to semantic labels.
// Indices missing from Labels resolve to Default.
type ClassTable struct {
	Labels  map[int]string
	Default string
	alert   map[string]struct{}
}

// DefaultClassTable is the single-class theft policy: index 1 is shoplifting, the rest is normal.
func DefaultClassTable() ClassTable {
	return NewClassTable(map[int]string{1: ClassShoplifting}, ClassNormal, []string{ClassShoplifting})
}

func NewClassTable(labels map[int]string, def string, alertLabels []string) ClassTable {
	copied := make(map[int]string, len(labels))
	for idx, label := range labels {
		copied[idx] = label
	}
	return ClassTable{
		Labels:  copied,
		Default: def,
		alert: lo.SliceToMap(alertLabels, func(label string) (string, struct{}) {
			return label, struct{}{}
		}),
	}
}

// Label returns the label for a class index
func (t ClassTable) Label(idx int) string {
	if label, ok := t.Labels[idx]; ok {
		return label
	}
	return t.Default
}

// IsAlert reports whether detections with this label raise alerts
func (t ClassTable) IsAlert(label string) bool {
	_, ok := t.alert[label]
	return ok
}

// AlertLabels returns the alerting labels in sorted order
func (t ClassTable) AlertLabels() []string {
	labels := lo.Keys(t.alert)
	sort.Strings(labels)
	return labels
}

// DisplayName is the text drawn on annotated frames
func (t ClassTable) DisplayName(label string) string {
	if t.IsAlert(label) {
		return "THEFT"
	}
	return strings.ToUpper(label)
}

func (t ClassTable) Validate() error {
	if t.Default == "" {
		return fmt.Errorf("class table: default label is empty")
	}
	for idx, label := range t.Labels {
		if idx < 0 {
			return fmt.Errorf("class table: negative index %d", idx)
		}
		if label == "" {
			return fmt.Errorf("class table: empty label for index %d", idx)
		}
	}
	known := append(lo.Values(t.Labels), t.Default)
	for label := range t.alert {
		if !lo.Contains(known, label) {
			return fmt.Errorf("class table: alert label %q is not produced by any index", label)
		}
	}
	return nil
}
