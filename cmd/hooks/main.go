// Package main provides the transport-side git hooks CLI. Git invokes it as
// the commit-msg and pre-receive hooks; the decisions themselves live in
// internal/hook.
package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/castingclouds/gerrit-sub002/internal/changeid"
	"github.com/castingclouds/gerrit-sub002/internal/config/project"
	"github.com/castingclouds/gerrit-sub002/internal/gitstore"
	"github.com/castingclouds/gerrit-sub002/internal/hook"
)

var (
	flagProject string
	flagConfig  string
	flagGitDir  string
)

func main() {
	root := &cobra.Command{
		Use:           "hooks",
		Short:         "git hooks for the change review engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flagProject, "project", "default", "project name the policy is looked up under")
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "TOML project policy file")
	root.PersistentFlags().StringVar(&flagGitDir, "git-dir", os.Getenv("GIT_DIR"), "git repository the push targets")

	root.AddCommand(commitMsgCmd(), preReceiveCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadPolicy() (project.Policy, error) {
	if flagConfig == "" {
		return project.DefaultPolicy(), nil
	}
	registry, err := project.Load(flagConfig)
	if err != nil {
		return project.Policy{}, fmt.Errorf("load policy %s: %w", flagConfig, err)
	}
	return registry.PolicyFor(flagProject), nil
}

func commitMsgCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "commit-msg <file>",
		Short: "stamp the commit message with a Change-Id footer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read message file: %w", err)
			}

			out, err := hook.CommitMsg(string(raw), messageSeed(cmd, string(raw)))
			if err != nil {
				return err
			}
			if out == string(raw) {
				return nil
			}
			if err := os.WriteFile(path, []byte(out), 0o644); err != nil {
				return fmt.Errorf("write message file: %w", err)
			}
			return nil
		},
	}
}

// messageSeed gathers what the hook environment knows about the pending
// commit. HEAD stands in as the parent when the repository is reachable;
// author and committer come from the variables git exports to hooks.
func messageSeed(cmd *cobra.Command, message string) changeid.Seed {
	now := time.Now()
	seed := changeid.Seed{
		Author:    identFromEnv("GIT_AUTHOR_NAME", "GIT_AUTHOR_EMAIL", now),
		Committer: identFromEnv("GIT_COMMITTER_NAME", "GIT_COMMITTER_EMAIL", now),
		Message:   message,
	}
	if flagGitDir == "" {
		return seed
	}
	git, err := gitstore.Open(flagGitDir, gitstore.DefaultOpTimeout)
	if err != nil {
		return seed
	}
	// HEAD is symbolic in most repositories; a zero hash means it did not
	// resolve to a commit and the seed goes without a parent.
	if head, err := git.Ref(cmd.Context(), "HEAD"); err == nil && head != hook.ZeroHash {
		seed.Parents = []string{head}
	}
	return seed
}

func identFromEnv(nameKey, emailKey string, when time.Time) string {
	name := os.Getenv(nameKey)
	email := os.Getenv(emailKey)
	if name == "" && email == "" {
		return ""
	}
	return changeid.FormatIdent(name, email, when)
}

func preReceiveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pre-receive",
		Short: "validate the ref updates of a push read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			policy, err := loadPolicy()
			if err != nil {
				return err
			}
			if flagGitDir == "" {
				return fmt.Errorf("--git-dir is required for pre-receive")
			}
			git, err := gitstore.Open(flagGitDir, gitstore.DefaultOpTimeout)
			if err != nil {
				return fmt.Errorf("open repository %s: %w", flagGitDir, err)
			}

			updates, err := readUpdates(cmd.InOrStdin())
			if err != nil {
				return err
			}

			decisions, err := hook.PreReceive(cmd.Context(), git, policy, updates)
			if err != nil {
				return err
			}
			for _, d := range decisions {
				switch d.Action {
				case hook.ActionIntake:
					fmt.Fprintf(cmd.OutOrStdout(), "intake %s %s\n", d.Branch, d.Update.Name)
				default:
					fmt.Fprintf(cmd.OutOrStdout(), "ok %s\n", d.Update.Name)
				}
			}
			return nil
		},
	}
}

// readUpdates parses the "old new ref" lines git feeds the hook.
func readUpdates(r io.Reader) ([]hook.RefUpdate, error) {
	var updates []hook.RefUpdate
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("malformed ref update line: %q", line)
		}
		updates = append(updates, hook.RefUpdate{Old: fields[0], New: fields[1], Name: fields[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return updates, nil
}
