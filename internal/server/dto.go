package server

import (
	"draftline/internal/domain"
	"draftline/internal/engine"
)

// Request payloads

type PlanRequest struct {
	Actions []domain.DraftAction `json:"actions"`
}

type CreateDraftRequest struct {
	Actions   []domain.DraftAction `json:"actions"`
	ProjectID string               `json:"projectId,omitempty"`
	Reason    string               `json:"reason,omitempty"`
	CreatedBy string               `json:"createdBy,omitempty" enum:"user,agent,system,"`
}

type RollbackRequest struct {
	Reason string `json:"reason,omitempty"`
}

// Response payloads

type PlanResponse struct {
	Actions  []domain.DraftAction `json:"actions"`
	Warnings []string             `json:"warnings"`
}

func planResponse(plan engine.PlanResult) PlanResponse {
	out := PlanResponse{Actions: plan.Actions, Warnings: plan.Warnings}
	if out.Actions == nil {
		out.Actions = []domain.DraftAction{}
	}
	if out.Warnings == nil {
		out.Warnings = []string{}
	}
	return out
}
