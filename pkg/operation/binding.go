package operation

import (
	"fmt"

	"github.com/droverhq/drover/pkg/errdefs"
	"github.com/droverhq/drover/pkg/types"
)

// IssueSeverity grades a binding validation finding
type IssueSeverity string

const (
	IssueError   IssueSeverity = "error"
	IssueWarning IssueSeverity = "warning"
)

// Issue is one finding from container-operation validation
type Issue struct {
	Severity    IssueSeverity
	ContainerID string
	Operation   string
	Message     string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: container %q operation %q: %s", i.Severity, i.ContainerID, i.Operation, i.Message)
}

// ValidateContainerOperations checks every operation a container
// declares against the registry: the operation must exist and the
// container's capabilities must cover its requirements
func (r *Registry) ValidateContainerOperations(def *types.ContainerDefinition) []Issue {
	var issues []Issue
	seen := make(map[string]bool)

	for _, declared := range def.Operations {
		if seen[declared.Type] {
			issues = append(issues, Issue{
				Severity:    IssueWarning,
				ContainerID: def.ID,
				Operation:   declared.Type,
				Message:     "declared more than once",
			})
			continue
		}
		seen[declared.Type] = true

		op := r.Get(declared.Type)
		if op == nil {
			issues = append(issues, Issue{
				Severity:    IssueError,
				ContainerID: def.ID,
				Operation:   declared.Type,
				Message:     "unknown operation",
			})
			continue
		}
		for _, cap := range op.RequiredCapabilities {
			if !def.HasCapability(cap) {
				issues = append(issues, Issue{
					Severity:    IssueError,
					ContainerID: def.ID,
					Operation:   declared.Type,
					Message:     fmt.Sprintf("container lacks capability %q", cap),
				})
			}
		}
	}
	return issues
}

// AssertContainerOperations fails on the first error-severity issue
func (r *Registry) AssertContainerOperations(def *types.ContainerDefinition) error {
	for _, issue := range r.ValidateContainerOperations(def) {
		if issue.Severity == IssueError {
			return errdefs.New(errdefs.KindCapabilityMissing, issue.String()).
				WithDetail("container", issue.ContainerID).
				WithDetail("operation", issue.Operation)
		}
	}
	return nil
}

// ContainerAllowsOperation enforces the two binding rules before a
// task reaches the queue: capability coverage, and membership in the
// container's declared operation list when that list is non-empty
func (r *Registry) ContainerAllowsOperation(def *types.ContainerDefinition, opID string) error {
	op := r.Get(opID)
	if op == nil {
		return errdefs.Newf(errdefs.KindOperationNotDeclared, "operation %q is not registered", opID)
	}

	for _, cap := range op.RequiredCapabilities {
		if !def.HasCapability(cap) {
			return errdefs.Newf(errdefs.KindCapabilityMissing,
				"container %q lacks capability %q required by operation %q", def.ID, cap, opID).
				WithDetail("container", def.ID).
				WithDetail("capability", cap)
		}
	}

	if len(def.Operations) > 0 {
		declared := false
		for _, d := range def.Operations {
			if d.Type == opID {
				declared = true
				break
			}
		}
		if !declared {
			return errdefs.Newf(errdefs.KindOperationNotDeclared,
				"operation %q is not declared on container %q", opID, def.ID).
				WithDetail("container", def.ID)
		}
	}
	return nil
}
