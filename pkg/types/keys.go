package types

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownKey is returned when parsing a label or annotation key outside
// the known set.
var ErrUnknownKey = errors.New("unknown key")

// LabelKey is a label key from the closed set the control plane understands
type LabelKey string

const (
	LabelRole             LabelKey = "role"
	LabelApp              LabelKey = "app"
	LabelInfraUUID        LabelKey = "infraUuid"
	LabelAddressSpace     LabelKey = "addressSpace"
	LabelAddressSpaceType LabelKey = "addressSpaceType"
	LabelBrokerUnit       LabelKey = "brokerUnit"
)

var labelKeys = map[LabelKey]struct{}{
	LabelRole:             {},
	LabelApp:              {},
	LabelInfraUUID:        {},
	LabelAddressSpace:     {},
	LabelAddressSpaceType: {},
	LabelBrokerUnit:       {},
}

// ParseLabelKey converts a raw key into a LabelKey
func ParseLabelKey(s string) (LabelKey, error) {
	k := LabelKey(s)
	if _, ok := labelKeys[k]; !ok {
		return "", fmt.Errorf("label %q: %w", s, ErrUnknownKey)
	}
	return k, nil
}

// LabelKeys returns every known label key in sorted order
func LabelKeys() []LabelKey {
	keys := make([]LabelKey, 0, len(labelKeys))
	for k := range labelKeys {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// AnnotationKey is an annotation key from the closed set the control plane
// understands
type AnnotationKey string

const (
	AnnotationClusterID        AnnotationKey = "cluster_id"
	AnnotationBrokerID         AnnotationKey = "broker_id"
	AnnotationAddressSpacePlan AnnotationKey = "addressSpacePlan"
	AnnotationAddressPlan      AnnotationKey = "addressPlan"
)

var annotationKeys = map[AnnotationKey]struct{}{
	AnnotationClusterID:        {},
	AnnotationBrokerID:         {},
	AnnotationAddressSpacePlan: {},
	AnnotationAddressPlan:      {},
}

// ParseAnnotationKey converts a raw key into an AnnotationKey
func ParseAnnotationKey(s string) (AnnotationKey, error) {
	k := AnnotationKey(s)
	if _, ok := annotationKeys[k]; !ok {
		return "", fmt.Errorf("annotation %q: %w", s, ErrUnknownKey)
	}
	return k, nil
}

// AnnotationKeys returns every known annotation key in sorted order
func AnnotationKeys() []AnnotationKey {
	keys := make([]AnnotationKey, 0, len(annotationKeys))
	for k := range annotationKeys {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// ParseLabels converts a raw map, rejecting unknown keys
func ParseLabels(raw map[string]string) (map[LabelKey]string, error) {
	out := make(map[LabelKey]string, len(raw))
	for k, v := range raw {
		key, err := ParseLabelKey(k)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

// ParseAnnotations converts a raw map, rejecting unknown keys
func ParseAnnotations(raw map[string]string) (map[AnnotationKey]string, error) {
	out := make(map[AnnotationKey]string, len(raw))
	for k, v := range raw {
		key, err := ParseAnnotationKey(k)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	return out, nil
}

// Role label values
const (
	RoleInstance     = "instance"
	RoleBroker       = "broker"
	RoleAddress      = "address"
	RoleRouterConfig = "router-config"
)
