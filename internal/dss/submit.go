package dss

import (
	"context"
	"fmt"

	"github.com/ontree-co/treeseg/internal/logging"
	"github.com/ontree-co/treeseg/internal/workspace"
)

// Submit sends the workspace saved at workspacePath to the service with the
// given hash and returns the new ticket id. The workspace is read back from
// disk, so unsaved edits are not included. The ticket is remembered as the
// last submission but not selected. When the ticket was created but an
// upload or queueing failed, its id is returned with the error and it is
// still recorded in the history so it can be found and deleted.
func (m *Model) Submit(ctx context.Context, workspacePath, serviceHash string, progress workspace.ProgressFunc) (int64, error) {
	if workspacePath == "" {
		return 0, ErrWorkspaceNotSaved
	}
	if serviceHash == "" {
		return 0, ErrNoService
	}
	if !m.IsComplete() {
		var missing []string
		for _, tag := range m.tags {
			if tag.Spec.Required && !tag.Bound() {
				missing = append(missing, tag.Spec.Name)
			}
		}
		return 0, fmt.Errorf("%w: %v", ErrIncompleteBindings, missing)
	}

	def, err := m.store.ReadDefinition(workspacePath)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrWorkspaceNotSaved, err)
	}

	ticketID, err := m.store.CreateTicket(ctx, def, serviceHash, progress)
	if err != nil {
		if ticketID == 0 {
			return 0, fmt.Errorf("failed to submit workspace: %w", err)
		}
		// The ticket exists on the server but never got queued
		m.recordSubmission(ctx, serviceHash, workspacePath, ticketID)
		return ticketID, fmt.Errorf("failed to submit workspace, ticket %d was created but not queued: %w", ticketID, err)
	}
	logging.Infof("Submitted %s to service %s as ticket %d", workspacePath, serviceHash, ticketID)

	m.lastSubmitted = ticketID
	m.topics.Submission.emit(ChangeValues)

	m.recordSubmission(ctx, serviceHash, workspacePath, ticketID)
	return ticketID, nil
}

func (m *Model) recordSubmission(ctx context.Context, serviceHash, workspacePath string, ticketID int64) {
	if m.history == nil {
		return
	}
	if err := m.history.RecordSubmission(ctx, m.ServerURL(), serviceHash, workspacePath, ticketID); err != nil {
		logging.Warnf("Failed to record submission of ticket %d: %v", ticketID, err)
	}
}

// LastSubmittedTicket returns the id of the most recent successful submission
func (m *Model) LastSubmittedTicket() (int64, bool) {
	return m.lastSubmitted, m.lastSubmitted != 0
}
