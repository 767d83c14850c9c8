package configserv

import (
	"sort"
	"strconv"
	"strings"

	"k8s.io/apimachinery/pkg/labels"

	"github.com/cuemby/courier/pkg/types"
)

// ObserverKey is the interest of a subscriber: a label selector and an
// annotation selector, both exact-match. Keys built from equal maps are
// equal regardless of how the maps were populated.
type ObserverKey struct {
	labels      map[types.LabelKey]string
	annotations map[types.AnnotationKey]string
	canonical   string

	labelSel      labels.Selector
	annotationSel labels.Selector
}

// NewObserverKey builds a key from copies of the given maps
func NewObserverKey(l map[types.LabelKey]string, a map[types.AnnotationKey]string) ObserverKey {
	k := ObserverKey{
		labels:      make(map[types.LabelKey]string, len(l)),
		annotations: make(map[types.AnnotationKey]string, len(a)),
	}
	for key, v := range l {
		k.labels[key] = v
	}
	for key, v := range a {
		k.annotations[key] = v
	}

	ls, as := toSet(k.labels), toSet(k.annotations)
	k.canonical = canonical(ls) + "|" + canonical(as)
	k.labelSel = labels.SelectorFromSet(ls)
	k.annotationSel = labels.SelectorFromSet(as)
	return k
}

// ParseObserverKey validates untyped selector maps, as received from a
// subscriber, and builds a key from them
func ParseObserverKey(l, a map[string]string) (ObserverKey, error) {
	lk, err := types.ParseLabels(l)
	if err != nil {
		return ObserverKey{}, err
	}
	ak, err := types.ParseAnnotations(a)
	if err != nil {
		return ObserverKey{}, err
	}
	return NewObserverKey(lk, ak), nil
}

func toSet[K ~string](m map[K]string) labels.Set {
	s := make(labels.Set, len(m))
	for k, v := range m {
		s[string(k)] = v
	}
	return s
}

// canonical renders a map as sorted k="v" pairs. Values are quoted since
// annotation values may themselves contain commas.
func canonical(s labels.Set) string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.Quote(s[k]))
	}
	return b.String()
}

// String returns the canonical form of the key
func (k ObserverKey) String() string {
	return k.canonical
}

// Equal reports structural equality
func (k ObserverKey) Equal(o ObserverKey) bool {
	return k.canonical == o.canonical
}

// Labels returns a copy of the label selector
func (k ObserverKey) Labels() map[types.LabelKey]string {
	out := make(map[types.LabelKey]string, len(k.labels))
	for key, v := range k.labels {
		out[key] = v
	}
	return out
}

// Annotations returns a copy of the annotation selector
func (k ObserverKey) Annotations() map[types.AnnotationKey]string {
	out := make(map[types.AnnotationKey]string, len(k.annotations))
	for key, v := range k.annotations {
		out[key] = v
	}
	return out
}

// Matches reports whether r is selected by the key
func (k ObserverKey) Matches(r *types.Resource) bool {
	if k.labelSel == nil {
		return true
	}
	return k.labelSel.Matches(toSet(r.Labels)) && k.annotationSel.Matches(toSet(r.Annotations))
}

// project keeps only the annotations the key names. Subscribers that do not
// select on an annotation never see it change.
func (k ObserverKey) project(r *types.Resource) Item {
	item := Item{
		Kind: string(r.Kind),
		Name: r.Name,
		Body: append([]byte(nil), r.Body...),
	}
	if len(r.Labels) > 0 {
		item.Labels = make(map[string]string, len(r.Labels))
		for key, v := range r.Labels {
			item.Labels[string(key)] = v
		}
	}
	for key := range k.annotations {
		if v, ok := r.Annotations[key]; ok {
			if item.Annotations == nil {
				item.Annotations = make(map[string]string)
			}
			item.Annotations[string(key)] = v
		}
	}
	return item
}
