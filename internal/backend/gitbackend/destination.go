package gitbackend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/temirov/carbon/internal/backend"
	"github.com/temirov/carbon/internal/change"
	"github.com/temirov/carbon/internal/workdir"
)

// Commit trailers recording destination provenance.
const (
	// WorkflowTrailerKey names the workflow that created a destination commit.
	WorkflowTrailerKey = "Carbon-Workflow"
	// OriginTrailerKey records the origin reference of a destination commit.
	OriginTrailerKey = "Carbon-Origin-Ref"
)

const (
	defaultDestinationBranchConstant     = "main"
	destinationCacheKindConstant         = "destination"
	destinationTrackingReferenceConstant = "refs/carbon/destination"
	branchReferencePrefixConstant        = "refs/heads/"
	forcedRefspecTemplateConstant        = "+%s:%s"
	pushRefspecTemplateConstant          = "%s:%s"
	trailerTemplateConstant              = "%s: %s"
	trailerSeparatorConstant             = ":"
	trailerGrepTemplateConstant          = "--grep=^%s:"
	trailerValueGrepTemplateConstant     = "--grep=^%s: %s$"
	destinationIdentityTemplateConstant  = "%s#%s"
	indexDirectoryPatternConstant        = "carbon-index-*"
	indexFileNameConstant                = "index"
	indexFileEnvironmentKeyConstant      = "GIT_INDEX_FILE"
	authorNameEnvironmentKeyConstant     = "GIT_AUTHOR_NAME"
	authorEmailEnvironmentKeyConstant    = "GIT_AUTHOR_EMAIL"
	authorDateEnvironmentKeyConstant     = "GIT_AUTHOR_DATE"
	committerNameEnvironmentKeyConstant  = "GIT_COMMITTER_NAME"
	committerEmailEnvironmentKeyConstant = "GIT_COMMITTER_EMAIL"
	committerDateEnvironmentKeyConstant  = "GIT_COMMITTER_DATE"
	paragraphSeparatorConstant           = "\n\n"
	destinationCommittedLogMessage       = "Created destination commit"
	destinationReusedLogMessage          = "Destination already holds origin reference"
	destinationPushedLogMessage          = "Pushed destination branch"
	commitFieldConstant                  = "commit"
	branchFieldConstant                  = "branch"
	originReferenceFieldConstant         = "origin_reference"
	destinationRequiresURLMessage        = "destination url is required"
	destinationPrepareErrorTemplate      = "unable to prepare destination %s: %w"
	destinationStageErrorTemplate        = "unable to stage working tree %s: %w"
	destinationCommitErrorTemplate       = "unable to create destination commit for %s: %w"
	destinationPushErrorTemplate         = "unable to push %s to %s: %w"
	destinationHistoryErrorTemplate      = "unable to read destination history: %w"
	destinationCommitterErrorTemplate    = "invalid committer: %w"
)

// DestinationOptions configure a git destination.
type DestinationOptions struct {
	URL    string `mapstructure:"url"`
	Branch string `mapstructure:"branch"`
	// Push defaults to true. When false, commits stay in the local cache repository.
	Push      *bool  `mapstructure:"push"`
	Committer string `mapstructure:"committer"`
}

// Destination commits staged trees onto a branch of a remote git repository.
type Destination struct {
	options      DestinationOptions
	remote       RemoteURL
	committer    change.Author
	push         bool
	workflowName string
	repository   *repository
	logger       *zap.Logger

	mutex    sync.Mutex
	prepared bool
	tip      string
}

// NewDestination builds a git destination. No git command runs until the first call.
func NewDestination(options DestinationOptions, executor GitExecutor, environment backend.Environment) (*Destination, error) {
	if len(strings.TrimSpace(options.URL)) == 0 {
		return nil, errors.New(destinationRequiresURLMessage)
	}
	remote, parseError := ParseRemoteURL(options.URL)
	if parseError != nil {
		return nil, parseError
	}
	if len(strings.TrimSpace(options.Branch)) == 0 {
		options.Branch = defaultDestinationBranchConstant
	}
	var committer change.Author
	if len(strings.TrimSpace(options.Committer)) > 0 {
		parsedCommitter, committerError := change.ParseAuthor(options.Committer)
		if committerError != nil {
			return nil, fmt.Errorf(destinationCommitterErrorTemplate, committerError)
		}
		committer = parsedCommitter
	}
	push := true
	if options.Push != nil {
		push = *options.Push
	}
	repositoryDirectory, cacheError := cacheEntry(environment.CacheDirectory, destinationCacheKindConstant, remote.Identity()+options.Branch)
	if cacheError != nil {
		return nil, cacheError
	}
	logger := environment.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Destination{
		options:      options,
		remote:       remote,
		committer:    committer,
		push:         push,
		workflowName: strings.TrimSpace(environment.WorkflowName),
		repository:   newRepository(executor, repositoryDirectory, environment.HomeDirectory, logger, environment.Clock, environment.PushAttempts),
		logger:       logger,
	}, nil
}

// Identity combines the remote identity with the destination branch.
func (destination *Destination) Identity() string {
	return fmt.Sprintf(destinationIdentityTemplateConstant, destination.remote.Identity(), destination.options.Branch)
}

// PreviousRef returns the origin reference recorded by the newest commit of this destination's workflow
// on the destination branch. Commits written by other workflows are ignored.
func (destination *Destination) PreviousRef(executionContext context.Context) (string, error) {
	destination.mutex.Lock()
	defer destination.mutex.Unlock()
	if prepareError := destination.prepare(executionContext); prepareError != nil {
		return "", prepareError
	}
	if len(destination.tip) == 0 {
		return "", nil
	}
	arguments := []string{"log", "-n1", "--format=%B", "--extended-regexp", "--all-match", fmt.Sprintf(trailerGrepTemplateConstant, OriginTrailerKey)}
	if len(destination.workflowName) > 0 {
		arguments = append(arguments, fmt.Sprintf(trailerValueGrepTemplateConstant, WorkflowTrailerKey, regexp.QuoteMeta(destination.workflowName)))
	}
	output, logError := destination.repository.run(executionContext, append(arguments, destination.tip)...)
	if logError != nil {
		return "", fmt.Errorf(destinationHistoryErrorTemplate, logError)
	}
	return trailerValue(output, OriginTrailerKey), nil
}

// Write commits the staged tree on top of the branch tip and pushes it.
// A retry for a change the tip already records returns the tip instead of committing twice.
func (destination *Destination) Write(executionContext context.Context, request backend.WriteRequest) (backend.CommitResult, error) {
	destination.mutex.Lock()
	defer destination.mutex.Unlock()
	if prepareError := destination.prepare(executionContext); prepareError != nil {
		return backend.CommitResult{}, prepareError
	}
	originReference := request.Provenance.OriginReference
	if len(originReference) == 0 {
		originReference = request.Change.Reference
	}
	workflowName := strings.TrimSpace(request.Provenance.WorkflowName)
	if len(workflowName) == 0 {
		workflowName = destination.workflowName
	}

	if len(destination.tip) > 0 {
		tipMessage, messageError := destination.repository.run(executionContext, "log", "-n1", "--format=%B", destination.tip)
		if messageError != nil {
			return backend.CommitResult{}, fmt.Errorf(destinationHistoryErrorTemplate, messageError)
		}
		if trailerValue(tipMessage, OriginTrailerKey) == originReference && trailerValue(tipMessage, WorkflowTrailerKey) == workflowName {
			destination.logger.Info(destinationReusedLogMessage, zap.String(commitFieldConstant, destination.tip), zap.String(originReferenceFieldConstant, originReference))
			return backend.CommitResult{DestinationReference: destination.tip, OriginReference: originReference}, nil
		}
	}

	treeIdentifier, stageError := destination.stage(executionContext, request.Tree)
	if stageError != nil {
		return backend.CommitResult{}, fmt.Errorf(destinationStageErrorTemplate, request.Tree.Root(), stageError)
	}

	commitArguments := []string{"commit-tree", treeIdentifier}
	if len(destination.tip) > 0 {
		commitArguments = append(commitArguments, "-p", destination.tip)
	}
	commitOutput, commitError := destination.repository.runWith(executionContext, commandOptions{
		standardInput:    []byte(withProvenanceTrailers(request.Message, workflowName, originReference)),
		extraEnvironment: destination.identityEnvironment(request),
	}, commitArguments...)
	if commitError != nil {
		return backend.CommitResult{}, fmt.Errorf(destinationCommitErrorTemplate, originReference, commitError)
	}
	commitIdentifier := strings.TrimSpace(commitOutput)
	destination.logger.Debug(destinationCommittedLogMessage, zap.String(commitFieldConstant, commitIdentifier), zap.String(originReferenceFieldConstant, originReference))

	if destination.push {
		branchReference := branchReferencePrefixConstant + destination.options.Branch
		if _, pushError := destination.repository.runNetwork(executionContext, commandOptions{}, "push", "--quiet", cloneLocation(destination.options.URL, destination.remote), fmt.Sprintf(pushRefspecTemplateConstant, commitIdentifier, branchReference)); pushError != nil {
			return backend.CommitResult{}, fmt.Errorf(destinationPushErrorTemplate, commitIdentifier, destination.Identity(), pushError)
		}
		destination.logger.Info(destinationPushedLogMessage, zap.String(commitFieldConstant, commitIdentifier), zap.String(branchFieldConstant, destination.options.Branch))
	}
	if _, updateError := destination.repository.run(executionContext, "update-ref", destinationTrackingReferenceConstant, commitIdentifier); updateError != nil {
		return backend.CommitResult{}, updateError
	}
	destination.tip = commitIdentifier
	return backend.CommitResult{DestinationReference: commitIdentifier, OriginReference: originReference}, nil
}

// prepare creates the cache repository and reads the branch tip once per destination instance.
func (destination *Destination) prepare(executionContext context.Context) error {
	if destination.prepared {
		return nil
	}
	if !destination.repository.exists() {
		if _, initError := destination.repository.runWith(executionContext, commandOptions{withoutGitDirectory: true}, "init", "--bare", "--quiet", destination.repository.gitDirectory); initError != nil {
			return fmt.Errorf(destinationPrepareErrorTemplate, destination.Identity(), initError)
		}
	}

	if destination.push {
		if fetchError := destination.fetchBranch(executionContext); fetchError != nil {
			return fmt.Errorf(destinationPrepareErrorTemplate, destination.Identity(), fetchError)
		}
	}
	tip, tipError := destination.trackingTip(executionContext)
	if tipError != nil {
		return fmt.Errorf(destinationPrepareErrorTemplate, destination.Identity(), tipError)
	}
	destination.tip = tip
	destination.prepared = true
	return nil
}

func (destination *Destination) fetchBranch(executionContext context.Context) error {
	location := cloneLocation(destination.options.URL, destination.remote)
	branchReference := branchReferencePrefixConstant + destination.options.Branch
	heads, listError := destination.repository.runNetwork(executionContext, commandOptions{}, "ls-remote", "--heads", location, branchReference)
	if listError != nil {
		return listError
	}
	if len(strings.TrimSpace(heads)) == 0 {
		staleTip, tipError := destination.trackingTip(executionContext)
		if tipError != nil || len(staleTip) == 0 {
			return tipError
		}
		_, deleteError := destination.repository.run(executionContext, "update-ref", "-d", destinationTrackingReferenceConstant)
		return deleteError
	}
	_, fetchError := destination.repository.runNetwork(executionContext, commandOptions{}, "fetch", "--quiet", location, fmt.Sprintf(forcedRefspecTemplateConstant, branchReference, destinationTrackingReferenceConstant))
	return fetchError
}

func (destination *Destination) trackingTip(executionContext context.Context) (string, error) {
	output, revParseError := destination.repository.run(executionContext, "rev-parse", "--verify", "--quiet", destinationTrackingReferenceConstant+commitSuffixConstant)
	if revParseError != nil {
		if isCommandExit(revParseError) {
			return "", nil
		}
		return "", revParseError
	}
	return strings.TrimSpace(output), nil
}

// stage records the tree content in a throwaway index and returns the git tree identifier.
func (destination *Destination) stage(executionContext context.Context, tree *workdir.Tree) (string, error) {
	indexDirectory, directoryError := os.MkdirTemp("", indexDirectoryPatternConstant)
	if directoryError != nil {
		return "", directoryError
	}
	defer os.RemoveAll(indexDirectory)

	options := commandOptions{
		workTree:         tree.Root(),
		workingDirectory: tree.Root(),
		extraEnvironment: map[string]string{indexFileEnvironmentKeyConstant: filepath.Join(indexDirectory, indexFileNameConstant)},
	}
	if _, addError := destination.repository.runWith(executionContext, options, "add", "--all", "--force", "."); addError != nil {
		return "", addError
	}
	output, writeError := destination.repository.runWith(executionContext, options, "write-tree")
	if writeError != nil {
		return "", writeError
	}
	return strings.TrimSpace(output), nil
}

func (destination *Destination) identityEnvironment(request backend.WriteRequest) map[string]string {
	author := request.Author
	if author.IsZero() {
		author = request.Change.Author
	}
	committer := destination.committer
	if committer.IsZero() {
		committer = author
	}
	environment := map[string]string{
		authorNameEnvironmentKeyConstant:     identityName(author),
		authorEmailEnvironmentKeyConstant:    author.Email,
		committerNameEnvironmentKeyConstant:  identityName(committer),
		committerEmailEnvironmentKeyConstant: committer.Email,
		committerDateEnvironmentKeyConstant:  destination.repository.clock.Now().UTC().Format(time.RFC3339),
	}
	if !request.Change.Timestamp.IsZero() {
		environment[authorDateEnvironmentKeyConstant] = request.Change.Timestamp.Format(time.RFC3339)
	}
	return environment
}

// identityName falls back to the email because git rejects empty identity names.
func identityName(author change.Author) string {
	if len(strings.TrimSpace(author.Name)) > 0 {
		return author.Name
	}
	return author.Email
}

// withProvenanceTrailers appends the workflow (when known) and origin trailers to message.
func withProvenanceTrailers(message string, workflowName string, originReference string) string {
	trimmedMessage := strings.TrimRight(message, "\n")
	trailers := fmt.Sprintf(trailerTemplateConstant, OriginTrailerKey, originReference)
	if len(workflowName) > 0 {
		trailers = fmt.Sprintf(trailerTemplateConstant, WorkflowTrailerKey, workflowName) + lineSeparatorConstant + trailers
	}
	if len(strings.TrimSpace(trimmedMessage)) == 0 {
		return trailers + "\n"
	}
	return trimmedMessage + paragraphSeparatorConstant + trailers + "\n"
}

// trailerValue returns the value of the last trailer named key in a commit message.
func trailerValue(message string, key string) string {
	var value string
	for _, line := range strings.Split(message, lineSeparatorConstant) {
		trailerKey, trailerText, found := strings.Cut(strings.TrimSpace(line), trailerSeparatorConstant)
		if found && strings.EqualFold(strings.TrimSpace(trailerKey), key) {
			value = strings.TrimSpace(trailerText)
		}
	}
	return value
}
