package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rolekeeper/rolekeeper/internal/rbac"
)

// Exit codes shared by the inspection commands.
const (
	ExitOK     = 0
	ExitError  = 1
	ExitDenied = 10
)

// InspectCLI answers operational questions about a principal's access
// without going through the web panel.
type InspectCLI struct {
	service *rbac.Service
}

// NewInspectCLI constructs the helper.
func NewInspectCLI(service *rbac.Service) (*InspectCLI, error) {
	if service == nil {
		return nil, errors.New("inspect cli: rbac service required")
	}
	return &InspectCLI{service: service}, nil
}

// GrantsOptions defines the flags of the grants command.
type GrantsOptions struct {
	Email      string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// CheckOptions defines the flags of the check command.
type CheckOptions struct {
	Email      string
	Capability string
	OwnerID    int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// CheckSummary is the JSON output of the check command.
type CheckSummary struct {
	Email      string      `json:"email"`
	Capability string      `json:"capability"`
	OwnerID    int64       `json:"owner_id,omitempty"`
	Allowed    bool        `json:"allowed"`
	Reason     rbac.Reason `json:"reason"`
}

// GrantsCommand prints the roles and effective permissions of a principal.
func (c *InspectCLI) GrantsCommand(ctx context.Context, opts GrantsOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	grants, code := c.lookup(ctx, "grants", opts.Email, stderr)
	if code != ExitOK {
		return code
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(grants); err != nil {
			_, _ = fmt.Fprintf(stderr, "grants: encode json: %v\n", err)
			return ExitError
		}
		return ExitOK
	}
	tw := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "principal\t%s (#%d)\n", grants.Name, grants.PrincipalID)
	_, _ = fmt.Fprintf(tw, "roles\t%s\n", joinOrNone(grants.Roles))
	_, _ = fmt.Fprintf(tw, "permissions\t%s\n", joinOrNone(grants.PermissionNames()))
	if grants.SuperUser() {
		_, _ = fmt.Fprintf(tw, "superuser\tyes\n")
	}
	_ = tw.Flush()
	return ExitOK
}

// CheckCommand evaluates one capability for a principal. It exits with
// ExitDenied when the decision is a deny.
func (c *InspectCLI) CheckCommand(ctx context.Context, opts CheckOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	capability := strings.TrimSpace(opts.Capability)
	if capability == "" {
		_, _ = fmt.Fprintln(stderr, "check: --capability is required")
		return ExitError
	}
	if opts.OwnerID < 0 {
		_, _ = fmt.Fprintln(stderr, "check: --owner must be positive")
		return ExitError
	}
	grants, code := c.lookup(ctx, "check", opts.Email, stderr)
	if code != ExitOK {
		return code
	}
	var resource rbac.Resource
	if opts.OwnerID > 0 {
		resource = rbac.OwnedBy(opts.OwnerID)
	}
	decision := c.service.Decide(grants, capability, resource)
	summary := CheckSummary{
		Email:      strings.ToLower(strings.TrimSpace(opts.Email)),
		Capability: capability,
		OwnerID:    opts.OwnerID,
		Allowed:    decision.Allowed,
		Reason:     decision.Reason,
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(stderr, "check: encode json: %v\n", err)
			return ExitError
		}
	} else {
		verdict := "DENY"
		if decision.Allowed {
			verdict = "ALLOW"
		}
		_, _ = fmt.Fprintf(stdout, "%s %s for %s (%s)\n", verdict, capability, summary.Email, decision.Reason)
	}
	if !decision.Allowed {
		return ExitDenied
	}
	return ExitOK
}

func (c *InspectCLI) lookup(ctx context.Context, cmd, email string, stderr io.Writer) (*rbac.Grants, int) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		_, _ = fmt.Fprintf(stderr, "%s: --email is required\n", cmd)
		return nil, ExitError
	}
	principal, err := c.service.Store().GetPrincipalByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, rbac.ErrNotFound) {
			_, _ = fmt.Fprintf(stderr, "%s: no principal with email %s\n", cmd, email)
		} else {
			_, _ = fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
		}
		return nil, ExitError
	}
	grants, err := c.service.Grants(ctx, principal.ID)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%s: %v\n", cmd, err)
		return nil, ExitError
	}
	return grants, ExitOK
}

func writers(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
