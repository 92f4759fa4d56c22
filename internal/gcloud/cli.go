package gcloud

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/yairfalse/projaudit/internal/logger"
)

const createProjectFilter = `protoPayload.methodName="CreateProject" AND resource.type="project"`

// Runner executes a command and returns its stdout and stderr.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

// Run implements Runner.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// CLIConfig holds configuration for the gcloud CLI backend
type CLIConfig struct {
	Binary    string
	Freshness string
	Runner    Runner
	Logger    logger.Logger
}

// CLIClient implements Client on top of the gcloud CLI.
type CLIClient struct {
	binary    string
	freshness string
	runner    Runner
	log       logger.Logger
}

// NewCLIClient creates a CLI-backed client
func NewCLIClient(config CLIConfig) *CLIClient {
	if config.Binary == "" {
		config.Binary = "gcloud"
	}
	if config.Freshness == "" {
		config.Freshness = "400d"
	}
	if config.Runner == nil {
		config.Runner = ExecRunner{}
	}
	if config.Logger == nil {
		config.Logger = logger.NewNop()
	}

	return &CLIClient{
		binary:    config.Binary,
		freshness: config.Freshness,
		runner:    config.Runner,
		log:       config.Logger.WithField("backend", "gcloud"),
	}
}

// ActiveAccount implements Client.
func (c *CLIClient) ActiveAccount(ctx context.Context) (string, error) {
	out, err := c.run(ctx, "auth", "list", "--filter=status:ACTIVE", "--format=value(account)")
	if err != nil {
		return "", err
	}

	lines := nonEmptyLines(out)
	if len(lines) == 0 {
		return "", ErrNoActiveAccount
	}
	return lines[0], nil
}

// ListProjects implements Client. The parent.id filter matches only direct
// children of the organization, not projects nested in folders.
func (c *CLIClient) ListProjects(ctx context.Context, org string) ([]Project, error) {
	out, err := c.run(ctx, "projects", "list",
		"--filter=parent.id:"+org,
		"--sort-by=~createTime",
		"--format=value(projectId,createTime)",
	)
	if err != nil {
		return nil, err
	}

	var projects []Project
	for _, line := range nonEmptyLines(out) {
		fields := strings.Fields(line)
		p := Project{ID: fields[0]}
		if len(fields) > 1 {
			p.CreateTime = fields[1]
		}
		projects = append(projects, p)
	}
	return projects, nil
}

// ProjectCreator implements Client.
func (c *CLIClient) ProjectCreator(ctx context.Context, projectID string) (string, error) {
	out, err := c.run(ctx, "logging", "read", createProjectFilter,
		"--project="+projectID,
		"--order=asc",
		"--limit=1",
		"--freshness="+c.freshness,
		"--format=value(protoPayload.authenticationInfo.principalEmail)",
	)
	if err != nil {
		return "", err
	}

	lines := nonEmptyLines(out)
	if len(lines) == 0 {
		return "", nil
	}
	return lines[0], nil
}

// ProjectOwners implements Client.
func (c *CLIClient) ProjectOwners(ctx context.Context, projectID string) ([]string, error) {
	out, err := c.run(ctx, "projects", "get-iam-policy", projectID,
		"--flatten=bindings[].members",
		"--filter=bindings.role:"+OwnerRole,
		"--format=value(bindings.members)",
	)
	if err != nil {
		return nil, err
	}
	return nonEmptyLines(out), nil
}

// GrantOrgRole implements Client.
func (c *CLIClient) GrantOrgRole(ctx context.Context, org, member, role string) error {
	_, err := c.run(ctx, "organizations", "add-iam-policy-binding", org,
		"--member="+member,
		"--role="+role,
		"--condition=None",
		"--quiet",
	)
	return err
}

// run invokes the CLI and classifies failures. Output is only inspected
// for markers when the command failed or printed nothing to stdout.
func (c *CLIClient) run(ctx context.Context, args ...string) (string, error) {
	c.log.WithField("args", strings.Join(args, " ")).Debug("Running gcloud")

	stdout, stderr, err := c.runner.Run(ctx, c.binary, args...)
	if err != nil || strings.TrimSpace(stdout) == "" {
		if cerr := Classify(stdout+"\n"+stderr, err); cerr != nil {
			return "", fmt.Errorf("gcloud %s: %w", args[0], cerr)
		}
	}
	return stdout, nil
}

func nonEmptyLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
