// Package classify buckets an object's reference fields into the four
// categories the Record Preparer needs: system (strip), self (defer),
// in-scope (remap), and data dependency (pull in). Decisions are driven by
// live schema plus the run's growing Identity Registry.
package classify

import (
	"github.com/seedbuddy/crmseed/internal/registry"
	"github.com/seedbuddy/crmseed/internal/schema"
)

// Bucket is the classifier's decision for one reference field.
type Bucket int

const (
	// SystemReference: target is an org-local platform/config object whose
	// IDs cannot be migrated. Strip to null or omit.
	SystemReference Bucket = iota
	// SelfReference: target type equals the object itself (directly, or as
	// one arm of a polymorphic field). Resolved after insert.
	SelfReference
	// InScopeReference: target type has (or will have) entries in the
	// registry. Remap.
	InScopeReference
	// DataDependency: a single non-system, non-self target not otherwise in
	// scope; pulled in as a shallow dependency before writing this object.
	DataDependency
)

func (b Bucket) String() string {
	switch b {
	case SystemReference:
		return "system"
	case SelfReference:
		return "self"
	case InScopeReference:
		return "in-scope"
	case DataDependency:
		return "data-dependency"
	default:
		return "unknown"
	}
}

// Decision is the classifier's output for one field.
type Decision struct {
	Field  string
	Bucket Bucket
	// Target is populated for DataDependency: the single non-system target
	// object to shallow-seed.
	Target string
}

// SystemLookupObjects is the fixed deny-list of platform-identity,
// metadata/config, entitlement, territory, multi-currency, and miscellaneous
// platform objects whose IDs are org-local and never migrated.
var SystemLookupObjects = map[string]bool{
	// platform-identity
	"User": true, "Group": true, "Profile": true, "Role": true,
	"PermissionSet": true, "PermissionSetGroup": true,
	"ConnectedApplication": true, "Organization": true,
	// metadata/config
	"RecordType": true, "BusinessProcess": true, "ApexClass": true,
	"ApexTrigger": true, "CustomPermission": true, "EmailTemplate": true,
	"Folder": true, "ListView": true, "Layout": true,
	// entitlements
	"BusinessHours": true, "Entitlement": true, "EntitlementTemplate": true,
	"Milestone": true, "MilestoneType": true, "SlaProcess": true,
	// territory / multi-currency / misc platform
	"Division": true, "QueueSobject": true, "Calendar": true,
	"CollaborationGroup": true, "Network": true, "Site": true,
	"Community": true, "BrandTemplate": true, "DandBCompany": true,
	"PartnerRole": true, "DuplicateRecordSet": true, "DuplicateRecordItem": true,
	"DuplicateRule": true, "MatchingRule": true, "Period": true,
	"FiscalYearSettings": true,
}

func allSystem(targets []string) bool {
	for _, t := range targets {
		if !SystemLookupObjects[t] {
			return false
		}
	}
	return true
}

func contains(targets []string, name string) bool {
	for _, t := range targets {
		if t == name {
			return true
		}
	}
	return false
}

func nonSystemSubset(targets []string) []string {
	var out []string
	for _, t := range targets {
		if !SystemLookupObjects[t] {
			out = append(out, t)
		}
	}
	return out
}

// ClassifyRoot categorizes one writable reference field on the root object.
func ClassifyRoot(field schema.FieldDescriptor, rootObject string) Decision {
	d := Decision{Field: field.Name}

	targets := field.ReferenceTargets

	// Rule 1: exactly self.
	if len(targets) == 1 && targets[0] == rootObject {
		d.Bucket = SelfReference
		return d
	}
	// Rule 2: every target is system.
	if allSystem(targets) {
		d.Bucket = SystemReference
		return d
	}
	// Rule 3: polymorphic including self.
	if contains(targets, rootObject) {
		d.Bucket = SelfReference
		return d
	}
	// Rule 4: exactly one non-system target.
	nonSystem := nonSystemSubset(targets)
	if len(nonSystem) == 1 {
		d.Bucket = DataDependency
		d.Target = nonSystem[0]
		return d
	}
	// Rule 5: polymorphic across multiple non-system targets.
	d.Bucket = SystemReference
	return d
}

// ClassifyNonRoot categorizes one writable reference field on a non-root
// tier (child, grandchild, activity) against the registry built so far.
func ClassifyNonRoot(field schema.FieldDescriptor, reg *registry.Registry) Decision {
	d := Decision{Field: field.Name}

	for _, t := range field.ReferenceTargets {
		if reg.HasObject(t) {
			d.Bucket = InScopeReference
			return d
		}
	}
	d.Bucket = SystemReference
	return d
}

// ClassifyObject classifies every writable reference field of an object.
// rootObject is non-empty only when classifying the root tier (root-mode
// rules apply); otherwise the non-root rule is used.
func ClassifyObject(desc *schema.ObjectDescriptor, rootObject string, reg *registry.Registry) map[string]Decision {
	out := make(map[string]Decision)
	for name, f := range desc.Fields {
		if !f.Writable || f.Type != "reference" || len(f.ReferenceTargets) == 0 {
			continue
		}
		if rootObject != "" {
			out[name] = ClassifyRoot(f, rootObject)
		} else {
			out[name] = ClassifyNonRoot(f, reg)
		}
	}
	return out
}
