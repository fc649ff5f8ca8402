// Package schema discovers object schemas from a conn.Connection and filters
// them down to the queryable/insertable, non-platform subset the seeding
// pipeline is allowed to write. Nothing is declared up front; the object
// graph is described live from the org at run time.
package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/seedbuddy/crmseed/internal/conn"
)

// FieldDescriptor is a field's schema attributes.
type FieldDescriptor struct {
	Name             string
	Type             string
	Writable         bool
	Nullable         bool
	IsExternalID     bool
	ReferenceTargets []string
}

// ChildRelationshipDescriptor is a child object's relationship to its parent.
type ChildRelationshipDescriptor struct {
	ChildObject   string
	ForeignKey    string
	CascadeDelete bool
	// ParentObject is populated by DiscoverGrandchildren for grandchild
	// entries, naming which declared child this grandchild hangs off.
	ParentObject string
}

// ObjectDescriptor is an object type's full schema.
type ObjectDescriptor struct {
	Name     string
	Fields   map[string]FieldDescriptor
	Children []ChildRelationshipDescriptor
}

// WritableFields returns the set of field names writable on this object.
func (o ObjectDescriptor) WritableFields() map[string]bool {
	out := make(map[string]bool, len(o.Fields))
	for name, f := range o.Fields {
		if f.Writable {
			out[name] = true
		}
	}
	return out
}

// denyChildObjects is the fixed deny-list of platform child objects excluded
// from DiscoverChildren.
var denyChildObjects = map[string]bool{
	"ActivityHistory":      true,
	"OpenActivity":         true,
	"Task":                 true,
	"Event":                true,
	"FeedItem":             true,
	"FeedComment":          true,
	"ContentDocumentLink":  true,
	"ContentVersion":       true,
	"TopicAssignment":      true,
	"EntitySubscription":   true,
	"RecentlyViewed":       true,
	"NetworkActivityAudit": true,
}

// denySuffixes excludes any child whose name ends with one of these.
var denySuffixes = []string{
	"__Feed", "__History", "__Share", "__ChangeEvent", "History", "Feed", "Share", "ChangeEvent",
}

// Inspector discovers and caches object schemas for a single pipeline run.
type Inspector struct {
	c     conn.Connection
	cache map[string]*ObjectDescriptor

	insertableCache map[string]bool
	insertableDone  bool
}

// NewInspector creates an Inspector bound to one connection. Cache lifetime
// is the caller's, one pipeline invocation.
func NewInspector(c conn.Connection) *Inspector {
	return &Inspector{
		c:     c,
		cache: make(map[string]*ObjectDescriptor),
	}
}

// ListInsertableObjects returns objects that are both queryable and
// createable, sorted by label.
func (ins *Inspector) ListInsertableObjects(ctx context.Context) ([]conn.ObjectInfo, error) {
	all, err := ins.c.DescribeGlobal(ctx)
	if err != nil {
		return nil, fmt.Errorf("schema: describeGlobal failed: %w", err)
	}
	var out []conn.ObjectInfo
	for _, o := range all {
		if o.Queryable && o.Createable {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out, nil
}

func (ins *Inspector) insertableSet(ctx context.Context) (map[string]bool, error) {
	if ins.insertableDone {
		return ins.insertableCache, nil
	}
	objs, err := ins.ListInsertableObjects(ctx)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(objs))
	for _, o := range objs {
		set[o.Name] = true
	}
	ins.insertableCache = set
	ins.insertableDone = true
	return set, nil
}

// DescribeObject returns the full schema for an object, fetching from the
// connection on first use and caching for the rest of the run.
func (ins *Inspector) DescribeObject(ctx context.Context, objectName string) (*ObjectDescriptor, error) {
	if cached, ok := ins.cache[objectName]; ok {
		return cached, nil
	}

	raw, err := ins.c.Describe(ctx, objectName)
	if err != nil {
		return nil, fmt.Errorf("schema: describe(%s) failed: %w", objectName, err)
	}

	desc := &ObjectDescriptor{
		Name:   objectName,
		Fields: make(map[string]FieldDescriptor, len(raw.Fields)),
	}
	for _, f := range raw.Fields {
		desc.Fields[f.Name] = FieldDescriptor{
			Name:             f.Name,
			Type:             f.Type,
			Writable:         f.Writable,
			Nullable:         f.Nullable,
			IsExternalID:     f.IsExternalID,
			ReferenceTargets: append([]string(nil), f.ReferenceTargets...),
		}
	}

	children, err := ins.discoverChildrenFrom(ctx, raw.ChildRelationships)
	if err != nil {
		return nil, err
	}
	desc.Children = children

	ins.cache[objectName] = desc
	return desc, nil
}

// DiscoverChildren enumerates the valid child relationships of an object,
// sorted by child object name.
func (ins *Inspector) DiscoverChildren(ctx context.Context, objectName string) ([]ChildRelationshipDescriptor, error) {
	desc, err := ins.DescribeObject(ctx, objectName)
	if err != nil {
		return nil, err
	}
	return desc.Children, nil
}

func (ins *Inspector) discoverChildrenFrom(ctx context.Context, raw []conn.ChildRelationshipInfo) ([]ChildRelationshipDescriptor, error) {
	insertable, err := ins.insertableSet(ctx)
	if err != nil {
		return nil, err
	}

	var out []ChildRelationshipDescriptor
	for _, r := range raw {
		if r.FieldName == "" {
			continue // (d) relationship missing a field name
		}
		if denyChildObjects[r.ChildObject] {
			continue // (a) fixed deny-list
		}
		if hasDenySuffix(r.ChildObject) {
			continue // (b) deny suffixes
		}
		if !insertable[r.ChildObject] {
			continue // (c) not in the insertable global list
		}
		out = append(out, ChildRelationshipDescriptor{
			ChildObject:   r.ChildObject,
			ForeignKey:    r.FieldName,
			CascadeDelete: r.CascadeDelete,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChildObject < out[j].ChildObject })
	return out, nil
}

func hasDenySuffix(name string) bool {
	for _, suf := range denySuffixes {
		if strings.HasSuffix(name, suf) {
			return true
		}
	}
	return false
}

// DiscoverGrandchildren applies DiscoverChildren to each declared child,
// skipping any grandchild whose object is already in scope (the root or a
// declared child) to break cycles.
func (ins *Inspector) DiscoverGrandchildren(ctx context.Context, childNames []string, rootName string) ([]ChildRelationshipDescriptor, error) {
	inScope := map[string]bool{rootName: true}
	for _, c := range childNames {
		inScope[c] = true
	}

	var out []ChildRelationshipDescriptor
	for _, child := range childNames {
		grandchildren, err := ins.DiscoverChildren(ctx, child)
		if err != nil {
			return nil, err
		}
		for _, gc := range grandchildren {
			if inScope[gc.ChildObject] {
				continue
			}
			gc.ParentObject = child
			out = append(out, gc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChildObject < out[j].ChildObject })
	return out, nil
}
