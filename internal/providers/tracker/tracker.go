// ABOUTME: Issue tracker integrations that close the epic linked to an engagement.
// ABOUTME: Supports GitHub and GitLab issues and dispatches by the link's provider.

package tracker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/go-github/v62/github"
	"github.com/jfeddern/RiskGate/internal/types"
	"github.com/sirupsen/logrus"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

const (
	ProviderGitHub = "github"
	ProviderGitLab = "gitlab"
)

// EpicCloser closes one linked epic
type EpicCloser interface {
	CloseEpic(ctx context.Context, link types.TrackerLink) error
}

// GitHubCloser closes GitHub issues. The link project is "owner/repo".
type GitHubCloser struct {
	client *github.Client
}

func NewGitHubCloser(token string) *GitHubCloser {
	return NewGitHubCloserWithClient(github.NewClient(nil).WithAuthToken(token))
}

func NewGitHubCloserWithClient(client *github.Client) *GitHubCloser {
	return &GitHubCloser{client: client}
}

func (g *GitHubCloser) CloseEpic(ctx context.Context, link types.TrackerLink) error {
	owner, repo, ok := strings.Cut(link.Project, "/")
	if !ok || owner == "" || repo == "" {
		return fmt.Errorf("invalid github project %q, expected owner/repo", link.Project)
	}

	_, _, err := g.client.Issues.Edit(ctx, owner, repo, link.Issue, &github.IssueRequest{
		State: github.String("closed"),
	})
	if err != nil {
		return fmt.Errorf("failed to close github issue %s#%d: %w", link.Project, link.Issue, err)
	}
	return nil
}

// GitLabCloser closes GitLab issues. The link project is a project ID or full path.
type GitLabCloser struct {
	client *gitlab.Client
}

// NewGitLabCloser creates a closer for gitlab.com, or for baseURL when it is set
func NewGitLabCloser(token, baseURL string) (*GitLabCloser, error) {
	var opts []gitlab.ClientOptionFunc
	if baseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(baseURL))
	}

	client, err := gitlab.NewClient(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gitlab client: %w", err)
	}
	return &GitLabCloser{client: client}, nil
}

func (g *GitLabCloser) CloseEpic(ctx context.Context, link types.TrackerLink) error {
	if link.Project == "" {
		return fmt.Errorf("gitlab tracker link has no project")
	}

	_, _, err := g.client.Issues.UpdateIssue(link.Project, int64(link.Issue), &gitlab.UpdateIssueOptions{
		StateEvent: gitlab.Ptr("close"),
	}, gitlab.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("failed to close gitlab issue %s#%d: %w", link.Project, link.Issue, err)
	}
	return nil
}

// Dispatcher implements engine.TrackerNotifier by routing each link to its provider's closer
type Dispatcher struct {
	closers map[string]EpicCloser
	logger  *logrus.Logger
}

func NewDispatcher(logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		closers: make(map[string]EpicCloser),
		logger:  logger,
	}
}

// Register adds the closer for provider, replacing any previous one
func (d *Dispatcher) Register(provider string, closer EpicCloser) {
	d.closers[strings.ToLower(provider)] = closer
}

// Providers lists the registered providers in name order
func (d *Dispatcher) Providers() []string {
	providers := make([]string, 0, len(d.closers))
	for p := range d.closers {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	return providers
}

func (d *Dispatcher) CloseEpic(ctx context.Context, link types.TrackerLink) error {
	closer, ok := d.closers[strings.ToLower(link.Provider)]
	if !ok {
		return fmt.Errorf("no tracker configured for provider %q", link.Provider)
	}

	if err := closer.CloseEpic(ctx, link); err != nil {
		return err
	}

	d.logger.WithFields(logrus.Fields{
		"component": "tracker",
		"provider":  link.Provider,
		"project":   link.Project,
		"issue":     link.Issue,
	}).Info("Closed tracker epic")
	return nil
}
