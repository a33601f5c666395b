package gitbackend_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/temirov/carbon/internal/backend"
	"github.com/temirov/carbon/internal/backend/gitbackend"
	"github.com/temirov/carbon/internal/change"
	"github.com/temirov/carbon/internal/execshell"
	"github.com/temirov/carbon/internal/workdir"
)

const testBranchName = "main"

type gitFixture struct {
	testInstance  *testing.T
	homeDirectory string
}

func newGitFixture(testInstance *testing.T) gitFixture {
	testInstance.Helper()
	if _, lookupError := exec.LookPath(string(execshell.CommandGit)); lookupError != nil {
		testInstance.Skip("git executable not available")
	}
	return gitFixture{testInstance: testInstance, homeDirectory: testInstance.TempDir()}
}

func (fixture gitFixture) git(workingDirectory string, environment map[string]string, arguments ...string) string {
	fixture.testInstance.Helper()
	command := exec.Command(string(execshell.CommandGit), arguments...)
	command.Dir = workingDirectory
	command.Env = append(os.Environ(), "HOME="+fixture.homeDirectory, "GIT_CONFIG_NOSYSTEM=1")
	for key, value := range environment {
		command.Env = append(command.Env, key+"="+value)
	}
	output, runError := command.CombinedOutput()
	require.NoError(fixture.testInstance, runError, string(output))
	return strings.TrimSpace(string(output))
}

func (fixture gitFixture) commit(repositoryDirectory string, message string, timestamp string, files map[string]string, removed ...string) string {
	fixture.testInstance.Helper()
	for relativePath, content := range files {
		absolutePath := filepath.Join(repositoryDirectory, filepath.FromSlash(relativePath))
		require.NoError(fixture.testInstance, os.MkdirAll(filepath.Dir(absolutePath), 0o755))
		require.NoError(fixture.testInstance, os.WriteFile(absolutePath, []byte(content), 0o644))
	}
	for _, relativePath := range removed {
		fixture.git(repositoryDirectory, nil, "rm", "--quiet", relativePath)
	}
	fixture.git(repositoryDirectory, nil, "add", "--all")
	identity := map[string]string{
		"GIT_AUTHOR_NAME":     "Origin Author",
		"GIT_AUTHOR_EMAIL":    "author@example.com",
		"GIT_AUTHOR_DATE":     timestamp,
		"GIT_COMMITTER_NAME":  "Origin Author",
		"GIT_COMMITTER_EMAIL": "author@example.com",
		"GIT_COMMITTER_DATE":  timestamp,
	}
	fixture.git(repositoryDirectory, identity, "commit", "--quiet", "-m", message)
	return fixture.git(repositoryDirectory, nil, "rev-parse", "HEAD")
}

func (fixture gitFixture) environment(cacheDirectory string) backend.Environment {
	return backend.Environment{
		Logger:         zap.NewNop(),
		Clock:          testclock.NewClock(time.Date(2025, time.January, 2, 3, 4, 5, 0, time.UTC)),
		CacheDirectory: cacheDirectory,
		HomeDirectory:  fixture.homeDirectory,
		PushAttempts:   1,
	}
}

func newExecutor(testInstance *testing.T) *execshell.ShellExecutor {
	executor, executorError := execshell.NewShellExecutor(zap.NewNop(), execshell.NewOSCommandRunner())
	require.NoError(testInstance, executorError)
	return executor
}

func readTree(testInstance *testing.T, tree *workdir.Tree) map[string]string {
	testInstance.Helper()
	files, listError := tree.Files()
	require.NoError(testInstance, listError)
	contents := make(map[string]string, len(files))
	for _, relativePath := range files {
		absolutePath, resolveError := tree.Resolve(relativePath)
		require.NoError(testInstance, resolveError)
		content, readError := os.ReadFile(absolutePath)
		require.NoError(testInstance, readError)
		contents[relativePath] = string(content)
	}
	return contents
}

func TestGitOriginResolvesAndMaterializesHistory(testInstance *testing.T) {
	fixture := newGitFixture(testInstance)
	originDirectory := testInstance.TempDir()
	fixture.git(originDirectory, nil, "init", "--quiet")
	fixture.git(originDirectory, nil, "symbolic-ref", "HEAD", "refs/heads/"+testBranchName)

	firstReference := fixture.commit(originDirectory, "Add greeting", "2024-01-01T10:00:00Z", map[string]string{"greeting.txt": "hello\n"})
	secondReference := fixture.commit(originDirectory, "Add docs\n\nWith body", "2024-01-02T10:00:00Z", map[string]string{"greeting.txt": "hello world\n", "docs/guide.md": "# Guide\n"})
	thirdReference := fixture.commit(originDirectory, "Drop greeting", "2024-01-03T10:00:00Z", nil, "greeting.txt")

	origin, originError := gitbackend.NewOrigin(gitbackend.OriginOptions{URL: originDirectory, Ref: testBranchName}, newExecutor(testInstance), fixture.environment(testInstance.TempDir()))
	require.NoError(testInstance, originError)
	require.True(testInstance, strings.HasSuffix(origin.Identity(), "@"+testBranchName))

	executionContext := context.Background()
	history, resolveError := origin.Resolve(executionContext, "")
	require.NoError(testInstance, resolveError)
	require.Equal(testInstance, []string{firstReference, secondReference, thirdReference}, history.References())
	require.Equal(testInstance, "Add docs\n\nWith body", history[1].Message)
	require.Equal(testInstance, change.Author{Name: "Origin Author", Email: "author@example.com"}, history[1].Author)
	require.ElementsMatch(testInstance, []string{"docs/guide.md", "greeting.txt"}, history[1].AffectedPaths)

	incremental, incrementalError := origin.ResolveForMode(executionContext, change.ModeIterative, firstReference, "")
	require.NoError(testInstance, incrementalError)
	require.Equal(testInstance, []string{secondReference, thirdReference}, incremental.References())

	snapshot, snapshotError := origin.ResolveForMode(executionContext, change.ModeSnapshot, "", "")
	require.NoError(testInstance, snapshotError)
	require.Equal(testInstance, []string{thirdReference}, snapshot.References())

	requested, requestedError := origin.ResolveForMode(executionContext, change.ModeSquash, "", secondReference)
	require.NoError(testInstance, requestedError)
	require.Equal(testInstance, []string{firstReference, secondReference}, requested.References())

	_, missingError := origin.ResolveForMode(executionContext, change.ModeIterative, strings.Repeat("f", 40), "")
	require.ErrorIs(testInstance, missingError, backend.ErrLastMigratedNotFound)

	tree := workdir.NewTree(testInstance.TempDir())
	require.NoError(testInstance, origin.Materialize(executionContext, history[1], tree))
	require.Equal(testInstance, map[string]string{"greeting.txt": "hello world\n", "docs/guide.md": "# Guide\n"}, readTree(testInstance, tree))

	require.NoError(testInstance, origin.MaterializeDiff(executionContext, history[1], history[2], tree))
	require.Equal(testInstance, map[string]string{"docs/guide.md": "# Guide\n"}, readTree(testInstance, tree))

	fullTree := workdir.NewTree(testInstance.TempDir())
	require.NoError(testInstance, origin.Materialize(executionContext, history[2], fullTree))
	fullDigest, fullDigestError := fullTree.Digest()
	require.NoError(testInstance, fullDigestError)
	diffDigest, diffDigestError := tree.Digest()
	require.NoError(testInstance, diffDigestError)
	require.Equal(testInstance, fullDigest, diffDigest)
}

func TestGitDestinationCommitsWithProvenance(testInstance *testing.T) {
	fixture := newGitFixture(testInstance)
	remoteDirectory := filepath.Join(testInstance.TempDir(), "destination.git")
	fixture.git(testInstance.TempDir(), nil, "init", "--bare", "--quiet", remoteDirectory)
	fixture.git(remoteDirectory, nil, "symbolic-ref", "HEAD", "refs/heads/"+testBranchName)

	cacheDirectory := testInstance.TempDir()
	destinationOptions := gitbackend.DestinationOptions{URL: remoteDirectory, Branch: testBranchName, Committer: "Carbon Bot <bot@example.com>"}
	publishEnvironment := fixture.environment(cacheDirectory)
	publishEnvironment.WorkflowName = "publish"
	destination, destinationError := gitbackend.NewDestination(destinationOptions, newExecutor(testInstance), publishEnvironment)
	require.NoError(testInstance, destinationError)

	executionContext := context.Background()
	previousReference, previousError := destination.PreviousRef(executionContext)
	require.NoError(testInstance, previousError)
	require.Empty(testInstance, previousReference)

	tree := workdir.NewTree(testInstance.TempDir())
	require.NoError(testInstance, os.WriteFile(filepath.Join(tree.Root(), "README.md"), []byte("published\n"), 0o644))
	request := backend.WriteRequest{
		Tree:       tree,
		Change:     change.Change{Reference: "origin-1", Timestamp: time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)},
		Author:     change.Author{Name: "Destination Author", Email: "dest@example.com"},
		Message:    "Publish readme",
		Provenance: backend.Provenance{WorkflowName: "publish", OriginReference: "origin-1"},
	}
	firstResult, firstError := destination.Write(executionContext, request)
	require.NoError(testInstance, firstError)
	require.Equal(testInstance, "origin-1", firstResult.OriginReference)

	retriedResult, retriedError := destination.Write(executionContext, request)
	require.NoError(testInstance, retriedError)
	require.Equal(testInstance, firstResult.DestinationReference, retriedResult.DestinationReference)

	remoteTip := fixture.git(remoteDirectory, nil, "rev-parse", "refs/heads/"+testBranchName)
	require.Equal(testInstance, firstResult.DestinationReference, remoteTip)
	require.Equal(testInstance, "Destination Author|dest@example.com|Carbon Bot", fixture.git(remoteDirectory, nil, "log", "-1", "--format=%an|%ae|%cn", remoteTip))
	require.Equal(testInstance, "Publish readme\n\nCarbon-Workflow: publish\nCarbon-Origin-Ref: origin-1", fixture.git(remoteDirectory, nil, "log", "-1", "--format=%B", remoteTip))
	require.Equal(testInstance, "published", fixture.git(remoteDirectory, nil, "show", remoteTip+":README.md"))

	request.Change.Reference = "origin-2"
	request.Provenance.OriginReference = "origin-2"
	request.Message = "Second change"
	secondResult, secondError := destination.Write(executionContext, request)
	require.NoError(testInstance, secondError)
	require.NotEqual(testInstance, firstResult.DestinationReference, secondResult.DestinationReference)
	require.Equal(testInstance, firstResult.DestinationReference, fixture.git(remoteDirectory, nil, "rev-parse", secondResult.DestinationReference+"^"))

	reopened, reopenError := gitbackend.NewDestination(destinationOptions, newExecutor(testInstance), publishEnvironment)
	require.NoError(testInstance, reopenError)
	reopenedReference, reopenedError := reopened.PreviousRef(executionContext)
	require.NoError(testInstance, reopenedError)
	require.Equal(testInstance, "origin-2", reopenedReference)

	docsEnvironment := fixture.environment(testInstance.TempDir())
	docsEnvironment.WorkflowName = "publish.docs"
	docsDestination, docsError := gitbackend.NewDestination(destinationOptions, newExecutor(testInstance), docsEnvironment)
	require.NoError(testInstance, docsError)
	docsReference, docsReferenceError := docsDestination.PreviousRef(executionContext)
	require.NoError(testInstance, docsReferenceError)
	require.Empty(testInstance, docsReference)

	docsRequest := request
	docsRequest.Change.Reference = "docs-1"
	docsRequest.Provenance = backend.Provenance{WorkflowName: "publish.docs", OriginReference: "docs-1"}
	_, docsWriteError := docsDestination.Write(executionContext, docsRequest)
	require.NoError(testInstance, docsWriteError)

	docsReference, docsReferenceError = docsDestination.PreviousRef(executionContext)
	require.NoError(testInstance, docsReferenceError)
	require.Equal(testInstance, "docs-1", docsReference)

	refreshed, refreshError := gitbackend.NewDestination(destinationOptions, newExecutor(testInstance), publishEnvironment)
	require.NoError(testInstance, refreshError)
	refreshedReference, refreshedError := refreshed.PreviousRef(executionContext)
	require.NoError(testInstance, refreshedError)
	require.Equal(testInstance, "origin-2", refreshedReference)
}

func TestGitOriginLimitsContentToConfiguredPaths(testInstance *testing.T) {
	fixture := newGitFixture(testInstance)
	originDirectory := testInstance.TempDir()
	fixture.git(originDirectory, nil, "init", "--quiet")
	fixture.git(originDirectory, nil, "symbolic-ref", "HEAD", "refs/heads/"+testBranchName)

	sourceReference := fixture.commit(originDirectory, "Add source", "2024-02-01T10:00:00Z", map[string]string{"src/a.txt": "a\n", "private.txt": "secret\n"})
	fixture.commit(originDirectory, "Touch private only", "2024-02-02T10:00:00Z", map[string]string{"private.txt": "secret 2\n"})
	docsReference := fixture.commit(originDirectory, "Add docs", "2024-02-03T10:00:00Z", map[string]string{"docs/b.txt": "b\n"})
	dropReference := fixture.commit(originDirectory, "Drop source", "2024-02-04T10:00:00Z", nil, "src/a.txt")

	origin, originError := gitbackend.NewOrigin(gitbackend.OriginOptions{URL: originDirectory, Ref: testBranchName, Paths: []string{"src", "docs"}}, newExecutor(testInstance), fixture.environment(testInstance.TempDir()))
	require.NoError(testInstance, originError)

	executionContext := context.Background()
	history, resolveError := origin.ResolveForMode(executionContext, change.ModeIterative, "", "")
	require.NoError(testInstance, resolveError)
	require.Equal(testInstance, []string{sourceReference, docsReference, dropReference}, history.References())

	expectedTrees := []map[string]string{
		{"src/a.txt": "a\n"},
		{"src/a.txt": "a\n", "docs/b.txt": "b\n"},
		{"docs/b.txt": "b\n"},
	}
	for changeIndex, expectedTree := range expectedTrees {
		tree := workdir.NewTree(testInstance.TempDir())
		require.NoError(testInstance, origin.Materialize(executionContext, history[changeIndex], tree))
		require.Equal(testInstance, expectedTree, readTree(testInstance, tree))
	}

	incrementalTree := workdir.NewTree(testInstance.TempDir())
	require.NoError(testInstance, origin.Materialize(executionContext, history[0], incrementalTree))
	require.NoError(testInstance, origin.MaterializeDiff(executionContext, history[0], history[2], incrementalTree))
	require.Equal(testInstance, expectedTrees[2], readTree(testInstance, incrementalTree))

	absentOrigin, absentError := gitbackend.NewOrigin(gitbackend.OriginOptions{URL: originDirectory, Ref: testBranchName, Paths: []string{"missing"}}, newExecutor(testInstance), fixture.environment(testInstance.TempDir()))
	require.NoError(testInstance, absentError)
	emptyTree := workdir.NewTree(testInstance.TempDir())
	require.NoError(testInstance, absentOrigin.Materialize(executionContext, history[0], emptyTree))
	require.Empty(testInstance, readTree(testInstance, emptyTree))
}

func TestGitOriginFollowsFirstParent(testInstance *testing.T) {
	fixture := newGitFixture(testInstance)
	originDirectory := testInstance.TempDir()
	fixture.git(originDirectory, nil, "init", "--quiet")
	fixture.git(originDirectory, nil, "symbolic-ref", "HEAD", "refs/heads/"+testBranchName)

	baseReference := fixture.commit(originDirectory, "Base", "2024-03-01T10:00:00Z", map[string]string{"base.txt": "base\n"})
	fixture.git(originDirectory, nil, "checkout", "--quiet", "-b", "feature")
	featureReference := fixture.commit(originDirectory, "Feature work", "2024-03-02T10:00:00Z", map[string]string{"feature.txt": "feature\n"})
	fixture.git(originDirectory, nil, "checkout", "--quiet", testBranchName)
	mainReference := fixture.commit(originDirectory, "Main work", "2024-03-03T10:00:00Z", map[string]string{"main.txt": "main\n"})
	mergeIdentity := map[string]string{
		"GIT_AUTHOR_NAME":     "Origin Author",
		"GIT_AUTHOR_EMAIL":    "author@example.com",
		"GIT_AUTHOR_DATE":     "2024-03-04T10:00:00Z",
		"GIT_COMMITTER_NAME":  "Origin Author",
		"GIT_COMMITTER_EMAIL": "author@example.com",
		"GIT_COMMITTER_DATE":  "2024-03-04T10:00:00Z",
	}
	fixture.git(originDirectory, mergeIdentity, "merge", "--quiet", "--no-ff", "-m", "Merge feature", "feature")
	mergeReference := fixture.git(originDirectory, nil, "rev-parse", "HEAD")

	executionContext := context.Background()
	firstParentOrigin, firstParentError := gitbackend.NewOrigin(gitbackend.OriginOptions{URL: originDirectory, Ref: testBranchName, FirstParent: true}, newExecutor(testInstance), fixture.environment(testInstance.TempDir()))
	require.NoError(testInstance, firstParentError)
	firstParentHistory, firstParentResolveError := firstParentOrigin.Resolve(executionContext, "")
	require.NoError(testInstance, firstParentResolveError)
	require.Equal(testInstance, []string{baseReference, mainReference, mergeReference}, firstParentHistory.References())

	fullOrigin, fullError := gitbackend.NewOrigin(gitbackend.OriginOptions{URL: originDirectory, Ref: testBranchName}, newExecutor(testInstance), fixture.environment(testInstance.TempDir()))
	require.NoError(testInstance, fullError)
	fullHistory, fullResolveError := fullOrigin.Resolve(executionContext, "")
	require.NoError(testInstance, fullResolveError)
	require.ElementsMatch(testInstance, []string{baseReference, featureReference, mainReference, mergeReference}, fullHistory.References())

	tree := workdir.NewTree(testInstance.TempDir())
	require.NoError(testInstance, firstParentOrigin.Materialize(executionContext, firstParentHistory[2], tree))
	require.Equal(testInstance, map[string]string{"base.txt": "base\n", "feature.txt": "feature\n", "main.txt": "main\n"}, readTree(testInstance, tree))
}
