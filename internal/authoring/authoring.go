package authoring

import (
	"errors"

	"github.com/temirov/carbon/internal/change"
)

const emptyChangeSetErrorMessage = "no changes supplied for authoring"

// Authoring combines the author policy with the message template.
type Authoring struct {
	Policy  Policy
	Message MessageTemplate
}

// Request describes the changes that will be committed as one destination commit.
// Iterative runs pass one change; squash and snapshot runs pass the whole collapsed window.
type Request struct {
	WorkflowName string
	Mode         change.MigrationMode
	Changes      change.Sequence
}

// Result is the destination-facing identity and message.
type Result struct {
	Author  change.Author
	Message string
}

// Validate reports problems with both the policy and the message template.
func (authoring Authoring) Validate() []string {
	problems := authoring.Policy.Validate()
	return append(problems, authoring.Message.Validate()...)
}

// Compute maps the newest change in the request to its destination author and message. It performs no I/O.
func (authoring Authoring) Compute(request Request) (Result, error) {
	lastChange, found := request.Changes.Last()
	if !found {
		return Result{}, errors.New(emptyChangeSetErrorMessage)
	}
	author := authoring.Policy.Resolve(lastChange.Author)
	message, renderError := authoring.Message.Render(MessageContext{
		OriginalMessage: lastChange.Message,
		OriginReference: lastChange.Reference,
		WorkflowName:    request.WorkflowName,
		Summary:         lastChange.Summary(),
		Author:          lastChange.Author,
		Mode:            request.Mode,
		Changes:         request.Changes,
		ChangeCount:     len(request.Changes),
	})
	if renderError != nil {
		return Result{}, renderError
	}
	return Result{Author: author, Message: message}, nil
}
