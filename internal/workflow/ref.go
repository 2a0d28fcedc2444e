// ABOUTME: Sub-workflow reference parsing and resolution against a workflow provider
// ABOUTME: Grammar is name, name@version, namespace/name, or namespace/name@version

package workflow

import (
	"strings"

	"github.com/weftwork/weft/pkg/types"
)

// Ref is a parsed workflow reference
type Ref struct {
	Namespace string
	Name      string
	Version   string
}

// String renders the reference back to its canonical textual form
func (r Ref) String() string {
	out := r.Name
	if r.Namespace != "" {
		out = r.Namespace + "/" + out
	}
	if r.Version != "" {
		out = out + "@" + r.Version
	}
	return out
}

// ParseRef splits a workflow reference. The first '/' separates the
// namespace; the last '@' separates the version.
func ParseRef(ref string) Ref {
	rest := ref
	var parsed Ref

	if idx := strings.Index(rest, "/"); idx >= 0 {
		parsed.Namespace = rest[:idx]
		rest = rest[idx+1:]
	}
	if idx := strings.LastIndex(rest, "@"); idx >= 0 {
		parsed.Version = rest[idx+1:]
		rest = rest[:idx]
	}
	parsed.Name = rest
	return parsed
}

// Resolve finds the unique workflow matching a reference. The namespace
// defaults to the parent's when the reference omits one.
func Resolve(ref string, parentNamespace string, provider types.WorkflowProvider) (*types.WorkflowResource, error) {
	parsed := ParseRef(ref)
	namespace := parsed.Namespace
	if namespace == "" {
		namespace = parentNamespace
	}

	var matches []*types.WorkflowResource
	for _, candidate := range provider.List(namespace) {
		if candidate.Metadata.Name != parsed.Name {
			continue
		}
		if parsed.Version != "" && candidate.Metadata.Version() != parsed.Version {
			continue
		}
		matches = append(matches, candidate)
	}

	switch len(matches) {
	case 0:
		return nil, types.NewRefNotFoundError(ref)
	case 1:
		return matches[0], nil
	default:
		return nil, types.NewRefAmbiguousError(ref, len(matches))
	}
}
