// Package engine drives Terraform to apply assembled role requests.
//
// Every account gets its own stack: a working directory under the state
// directory holding the rendered main.tf.json and the local state file.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/terraform-exec/tfexec"
	tfjson "github.com/hashicorp/terraform-json"

	"github.com/humanitec/oidc-role-manager/internal/assemble"
	"github.com/humanitec/oidc-role-manager/internal/message"
)

type Options struct {
	StateDir         string
	StackName        string
	Region           string
	Profile          string
	TerraformVersion string
	// TerraformPath skips the installation when set.
	TerraformPath string
	LockTimeout   time.Duration
}

type Engine struct {
	opts     Options
	locker   *Locker
	execPath string
}

// ChangeSummary counts planned resource changes.
type ChangeSummary struct {
	Create  int `json:"create" yaml:"create"`
	Update  int `json:"update" yaml:"update"`
	Replace int `json:"replace" yaml:"replace"`
	Delete  int `json:"delete" yaml:"delete"`
	Same    int `json:"same" yaml:"same"`
}

func (c ChangeSummary) Total() int {
	return c.Create + c.Update + c.Replace + c.Delete
}

type StackInfo struct {
	Stack      Stack             `json:"stack" yaml:"stack"`
	Exists     bool              `json:"exists" yaml:"exists"`
	Resources  int               `json:"resources" yaml:"resources"`
	LastUpdate *time.Time        `json:"lastUpdate,omitempty" yaml:"lastUpdate,omitempty"`
	Outputs    map[string]string `json:"outputs,omitempty" yaml:"outputs,omitempty"`
}

func New(opts Options) (*Engine, error) {
	if err := os.MkdirAll(opts.StateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	locker, err := NewLocker(filepath.Join(opts.StateDir, ".locks"), opts.LockTimeout)
	if err != nil {
		return nil, err
	}
	return &Engine{opts: opts, locker: locker}, nil
}

func (e *Engine) Stack(accountID string) Stack {
	return NewStack(e.opts.StateDir, e.opts.StackName, accountID)
}

func (e *Engine) writeConfig(stack Stack, requests []assemble.RoleRequest) error {
	config, err := RenderConfig(requests, ProviderSettings{Region: e.opts.Region, Profile: e.opts.Profile})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(stack.Dir, 0755); err != nil {
		return fmt.Errorf("failed to create stack directory: %w", err)
	}
	if err := os.WriteFile(stack.ConfigPath(), config, 0644); err != nil {
		return fmt.Errorf("failed to write terraform configuration: %w", err)
	}
	message.Debug("Terraform configuration written to %s", stack.ConfigPath())
	return nil
}

// Preview plans the requests and summarizes the planned changes.
// targets limits the plan to the given resource addresses.
func (e *Engine) Preview(ctx context.Context, stack Stack, requests []assemble.RoleRequest, targets []string) (*ChangeSummary, error) {
	release, err := e.locker.Lock(stack)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := e.writeConfig(stack, requests); err != nil {
		return nil, err
	}

	tf, err := e.terraform(ctx, stack)
	if err != nil {
		return nil, err
	}
	if err := e.init(ctx, tf); err != nil {
		return nil, err
	}

	opts := []tfexec.PlanOption{tfexec.Out(stack.planPath()), tfexec.Refresh(true)}
	for _, target := range targets {
		opts = append(opts, tfexec.Target(target))
	}
	if _, err := tf.Plan(ctx, opts...); err != nil {
		return nil, fmt.Errorf("failed to plan Terraform: %w", err)
	}
	defer os.Remove(stack.planPath())

	plan, err := tf.ShowPlanFile(ctx, stack.planPath())
	if err != nil {
		return nil, fmt.Errorf("failed to read Terraform plan: %w", err)
	}

	summary := Summarize(plan)
	return &summary, nil
}

// Deploy applies the requests and returns the stack outputs.
func (e *Engine) Deploy(ctx context.Context, stack Stack, requests []assemble.RoleRequest, targets []string) (map[string]string, error) {
	release, err := e.locker.Lock(stack)
	if err != nil {
		return nil, err
	}
	defer release()

	if err := e.writeConfig(stack, requests); err != nil {
		return nil, err
	}

	tf, err := e.terraform(ctx, stack)
	if err != nil {
		return nil, err
	}
	if err := e.init(ctx, tf); err != nil {
		return nil, err
	}

	var opts []tfexec.ApplyOption
	for _, target := range targets {
		opts = append(opts, tfexec.Target(target))
	}
	if err := tf.Apply(ctx, opts...); err != nil {
		return nil, fmt.Errorf("failed to apply Terraform: %w", err)
	}

	return outputs(ctx, tf)
}

// Destroy removes every resource of the stack.
func (e *Engine) Destroy(ctx context.Context, stack Stack) error {
	if !stack.Exists() {
		return fmt.Errorf("%w: %s", ErrStackNotFound, stack.Name)
	}

	release, err := e.locker.Lock(stack)
	if err != nil {
		return err
	}
	defer release()

	tf, err := e.terraform(ctx, stack)
	if err != nil {
		return err
	}
	if err := e.init(ctx, tf); err != nil {
		return err
	}
	if err := tf.Destroy(ctx); err != nil {
		return fmt.Errorf("failed to destroy Terraform: %w", err)
	}
	return nil
}

// Info inspects the state of a stack without changing it.
func (e *Engine) Info(ctx context.Context, stack Stack) (*StackInfo, error) {
	info := &StackInfo{Stack: stack}
	updated, err := stack.LastUpdate()
	if err != nil {
		if errors.Is(err, ErrStackNotFound) {
			return info, nil
		}
		return nil, err
	}
	info.Exists = true
	info.LastUpdate = &updated

	release, err := e.locker.RLock(stack)
	if err != nil {
		return nil, err
	}
	defer release()

	tf, err := e.terraform(ctx, stack)
	if err != nil {
		return nil, err
	}
	if !stack.initialized() {
		if err := e.init(ctx, tf); err != nil {
			return nil, err
		}
	}

	state, err := tf.Show(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read Terraform state: %w", err)
	}
	info.Resources = CountResources(state)

	info.Outputs, err = outputs(ctx, tf)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// Outputs reads the outputs of an existing stack.
func (e *Engine) Outputs(ctx context.Context, stack Stack) (map[string]string, error) {
	if !stack.Exists() {
		return nil, fmt.Errorf("%w: %s", ErrStackNotFound, stack.Name)
	}

	release, err := e.locker.RLock(stack)
	if err != nil {
		return nil, err
	}
	defer release()

	tf, err := e.terraform(ctx, stack)
	if err != nil {
		return nil, err
	}
	return outputs(ctx, tf)
}

func outputs(ctx context.Context, tf *tfexec.Terraform) (map[string]string, error) {
	meta, err := tf.Output(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read Terraform outputs: %w", err)
	}
	out := make(map[string]string, len(meta))
	for name, m := range meta {
		out[name] = outputValue(m.Value)
	}
	return out, nil
}

func outputValue(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// Summarize counts the resource changes of a plan.
func Summarize(plan *tfjson.Plan) ChangeSummary {
	var summary ChangeSummary
	if plan == nil {
		return summary
	}
	for _, rc := range plan.ResourceChanges {
		if rc == nil || rc.Change == nil {
			continue
		}
		actions := rc.Change.Actions
		switch {
		case actions.Replace():
			summary.Replace++
		case actions.Create():
			summary.Create++
		case actions.Update():
			summary.Update++
		case actions.Delete():
			summary.Delete++
		default:
			summary.Same++
		}
	}
	return summary
}

// CountResources counts managed resources in a state, child modules included.
func CountResources(state *tfjson.State) int {
	if state == nil || state.Values == nil {
		return 0
	}
	return countModule(state.Values.RootModule)
}

func countModule(module *tfjson.StateModule) int {
	if module == nil {
		return 0
	}
	n := 0
	for _, r := range module.Resources {
		if r.Mode == tfjson.ManagedResourceMode {
			n++
		}
	}
	for _, child := range module.ChildModules {
		n += countModule(child)
	}
	return n
}
