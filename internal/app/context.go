package app

import (
	"context"
	"fmt"

	"draftline/internal/repo"
)

// ResolveProject picks the project a CLI invocation operates on. It prefers
// the explicit override, then the sole project in the workspace. With zero or
// several projects and no override, the caller has to choose.
func ResolveProject(ctx context.Context, projectOverride string, r repo.Repo) (string, error) {
	if projectOverride != "" {
		if _, err := r.GetProject(ctx, projectOverride); err != nil {
			return "", fmt.Errorf("project %s: %w", projectOverride, err)
		}
		return projectOverride, nil
	}
	p, err := r.SingleProject(ctx)
	if err != nil {
		return "", fmt.Errorf("project not specified; use --project")
	}
	return p.ID, nil
}
