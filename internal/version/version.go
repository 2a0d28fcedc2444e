// ABOUTME: Workflow definition versioning via canonical SHA-256 content hashes
// ABOUTME: Appends a version row only when the normalized definition changed

package version

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/weftwork/weft/pkg/types"
)

// CalculateVersionHash produces the 64-char hex SHA-256 of a workflow's
// canonical form. Identical definitions hash identically regardless of map
// key order in the source document.
func CalculateVersionHash(workflow *types.WorkflowResource) (string, error) {
	canonical, err := Canonicalize(workflow)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:]), nil
}

// Canonicalize serializes a workflow to a stable textual form: transient
// metadata dropped, object keys sorted, no insignificant whitespace.
func Canonicalize(workflow *types.WorkflowResource) (string, error) {
	stripped := *workflow
	stripped.Metadata = types.Metadata{
		Name:      workflow.Metadata.Name,
		Namespace: workflow.Metadata.Namespace,
		Labels:    workflow.Metadata.Labels,
	}

	encoded, err := json.Marshal(&stripped)
	if err != nil {
		return "", fmt.Errorf("canonicalize workflow '%s': %w", workflow.Metadata.Name, err)
	}

	// Round-trip through generic maps so encoding/json re-emits with sorted
	// keys and canonical whitespace.
	var generic interface{}
	if err := json.Unmarshal(encoded, &generic); err != nil {
		return "", fmt.Errorf("canonicalize workflow '%s': %w", workflow.Metadata.Name, err)
	}
	canonical, err := json.Marshal(generic)
	if err != nil {
		return "", fmt.Errorf("canonicalize workflow '%s': %w", workflow.Metadata.Name, err)
	}
	return string(canonical), nil
}

// Service records new workflow versions as definitions change
type Service struct {
	versions types.WorkflowVersionRepository
	clock    types.Clock
	logger   types.Logger
}

// NewService creates a versioning service
func NewService(versions types.WorkflowVersionRepository, clock types.Clock, logger types.Logger) *Service {
	if clock == nil {
		clock = types.SystemClock{}
	}
	return &Service{versions: versions, clock: clock, logger: logger}
}

// CreateVersionIfChanged appends a version row when the workflow's hash
// differs from the latest stored one. Returns whether a new version was
// stored, and the current hash.
func (s *Service) CreateVersionIfChanged(workflow *types.WorkflowResource) (bool, string, error) {
	hash, err := CalculateVersionHash(workflow)
	if err != nil {
		return false, "", err
	}

	latest, err := s.versions.GetLatestVersion(workflow.Metadata.Name)
	if err != nil {
		return false, hash, &types.PersistenceError{Op: "get latest version", Cause: err}
	}
	if latest != nil && latest.VersionHash == hash {
		return false, hash, nil
	}

	canonical, err := Canonicalize(workflow)
	if err != nil {
		return false, hash, err
	}
	row := &types.WorkflowVersion{
		ID:           uuid.NewString(),
		WorkflowName: workflow.Metadata.Name,
		VersionHash:  hash,
		Definition:   canonical,
		CreatedAt:    s.clock.Now().UTC(),
	}
	if err := s.versions.SaveVersion(row); err != nil {
		return false, hash, &types.PersistenceError{Op: "save version", Cause: err}
	}

	if s.logger != nil {
		s.logger.Info().
			Str("workflow", workflow.Metadata.Name).
			Str("versionHash", hash[:12]).
			Msg("Recorded new workflow version")
	}
	return true, hash, nil
}
