package types

import (
	"encoding/json"
	"fmt"
)

// ResourceKind names a kind of object held by the cluster resource API
type ResourceKind string

const (
	KindInstance     ResourceKind = "Instance"
	KindBrokerUnit   ResourceKind = "BrokerUnit"
	KindAddress      ResourceKind = "Address"
	KindRouterConfig ResourceKind = "RouterConfig"
)

// Kinds lists every resource kind
func Kinds() []ResourceKind {
	return []ResourceKind{KindAddress, KindBrokerUnit, KindInstance, KindRouterConfig}
}

// Resource is the envelope stored by the cluster resource API and watched
// by the config distributor. Body holds the JSON encoding of the typed object.
type Resource struct {
	Kind        ResourceKind             `json:"kind"`
	Name        string                   `json:"name"`
	Labels      map[LabelKey]string      `json:"labels,omitempty"`
	Annotations map[AnnotationKey]string `json:"annotations,omitempty"`
	Body        json.RawMessage          `json:"body,omitempty"`
	Version     uint64                   `json:"version"`
}

// NewResource wraps obj in an envelope
func NewResource(kind ResourceKind, name string, obj any) (*Resource, error) {
	body, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s %s: %w", kind, name, err)
	}
	return &Resource{
		Kind:        kind,
		Name:        name,
		Labels:      make(map[LabelKey]string),
		Annotations: make(map[AnnotationKey]string),
		Body:        body,
	}, nil
}

// Key is the unique identity of a resource: kind/name
func (r *Resource) Key() string {
	return ResourceKey(r.Kind, r.Name)
}

// ResourceKey formats the identity of a resource
func ResourceKey(kind ResourceKind, name string) string {
	return string(kind) + "/" + name
}

// Decode unmarshals the body into v
func (r *Resource) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", r.Key(), err)
	}
	return nil
}

// Clone returns a deep copy
func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	c := *r
	c.Labels = make(map[LabelKey]string, len(r.Labels))
	for k, v := range r.Labels {
		c.Labels[k] = v
	}
	c.Annotations = make(map[AnnotationKey]string, len(r.Annotations))
	for k, v := range r.Annotations {
		c.Annotations[k] = v
	}
	c.Body = append(json.RawMessage(nil), r.Body...)
	return &c
}

// SameContent reports whether two resources carry equal labels, annotations
// and body. Version is ignored.
func (r *Resource) SameContent(o *Resource) bool {
	if r.Kind != o.Kind || r.Name != o.Name {
		return false
	}
	if len(r.Labels) != len(o.Labels) || len(r.Annotations) != len(o.Annotations) {
		return false
	}
	for k, v := range r.Labels {
		if ov, ok := o.Labels[k]; !ok || ov != v {
			return false
		}
	}
	for k, v := range r.Annotations {
		if ov, ok := o.Annotations[k]; !ok || ov != v {
			return false
		}
	}
	return string(r.Body) == string(o.Body)
}
