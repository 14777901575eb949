package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-version"
	install "github.com/hashicorp/hc-install"
	"github.com/hashicorp/hc-install/fs"
	"github.com/hashicorp/hc-install/product"
	"github.com/hashicorp/hc-install/releases"
	"github.com/hashicorp/hc-install/src"
	"github.com/hashicorp/terraform-exec/tfexec"

	"github.com/humanitec/oidc-role-manager/internal/message"
)

type terraformLogger struct{}

func (terraformLogger) Write(p []byte) (n int, err error) {
	for _, line := range strings.Split(strings.TrimSuffix(string(p), "\n"), "\n") {
		if line != "" {
			message.Debug("%s", line)
		}
	}
	return len(p), nil
}

func (terraformLogger) Printf(format string, v ...interface{}) {
	message.Debug("Terraform: "+format, v...)
}

// ensureTerraform returns the path of a Terraform binary, installing the
// configured version under the state directory when it is not found.
func (e *Engine) ensureTerraform(ctx context.Context) (string, error) {
	if e.opts.TerraformPath != "" {
		return e.opts.TerraformPath, nil
	}
	if e.execPath != "" {
		return e.execPath, nil
	}

	v, err := version.NewVersion(e.opts.TerraformVersion)
	if err != nil {
		return "", fmt.Errorf("failed to parse terraform version %q: %w", e.opts.TerraformVersion, err)
	}

	binDir := filepath.Join(e.opts.StateDir, ".bin", v.String())
	if err := os.MkdirAll(binDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create terraform install directory: %w", err)
	}

	installer := install.NewInstaller()
	installer.SetLogger(log.New(&terraformLogger{}, "Terraform Installer: ", 0))

	execPath, err := installer.Ensure(ctx, []src.Source{
		&fs.ExactVersion{
			Product:    product.Terraform,
			Version:    v,
			ExtraPaths: []string{binDir},
		},
		&releases.ExactVersion{
			Product:    product.Terraform,
			Version:    v,
			InstallDir: binDir,
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to install Terraform: %w", err)
	}

	e.execPath = execPath
	return execPath, nil
}

func (e *Engine) terraform(ctx context.Context, stack Stack) (*tfexec.Terraform, error) {
	execPath, err := e.ensureTerraform(ctx)
	if err != nil {
		return nil, err
	}

	tf, err := tfexec.NewTerraform(stack.Dir, execPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create Terraform: %w", err)
	}
	tf.SetLogger(&terraformLogger{})
	tf.SetStdout(&terraformLogger{})
	tf.SetStderr(&terraformLogger{})

	cacheDir := filepath.Join(e.opts.StateDir, ".plugin-cache")
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create plugin cache directory: %w", err)
	}

	env := environ()
	env["TF_PLUGIN_CACHE_DIR"] = cacheDir
	if e.opts.Profile != "" {
		env["AWS_PROFILE"] = e.opts.Profile
	}
	if e.opts.Region != "" {
		env["AWS_REGION"] = e.opts.Region
	}
	if err := tf.SetEnv(env); err != nil {
		return nil, fmt.Errorf("failed to set Terraform environment variables: %w", err)
	}

	return tf, nil
}

func (e *Engine) init(ctx context.Context, tf *tfexec.Terraform) error {
	if err := tf.Init(ctx, tfexec.Upgrade(false)); err != nil {
		return fmt.Errorf("failed to init Terraform: %w", err)
	}
	return nil
}

var managedEnv = map[string]bool{
	"TF_APPEND_USER_AGENT":    true,
	"TF_DISABLE_PLUGIN_TLS":   true,
	"TF_INPUT":                true,
	"TF_IN_AUTOMATION":        true,
	"TF_REATTACH_PROVIDERS":   true,
	"TF_SKIP_PROVIDER_VERIFY": true,
	"TF_WORKSPACE":            true,
}

// environ copies the process environment without the variables tfexec manages itself.
func environ() map[string]string {
	env := map[string]string{}
	for _, kv := range os.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || managedEnv[key] || strings.HasPrefix(key, "TF_LOG") {
			continue
		}
		env[key] = value
	}
	return env
}
