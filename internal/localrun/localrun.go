// Package localrun implements the "local runner" side of app run-config/
// run-image: resolving a configuration program's rendered Application into
// a concrete argv/env pair using the host's own environment variables
// instead of a cluster's Secret-backed sources, then executing it as a
// subprocess.
package localrun

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/april-dev/sisyphus/internal/configimage"
)

// Runner starts binaryRef (a container image reference, not a local path)
// with argv/env and returns the subprocess's exit code. The actual
// container runtime is an external collaborator this package never
// implements; ExecRunner just shells out to whichever one LOCAL_RUNNER
// names.
type Runner interface {
	Run(ctx context.Context, binaryRef string, argv []string, env []string) (int, error)
}

// ExecRunner shells out to a podman-or-similar local run command, named by
// the LOCAL_RUNNER environment variable (default "podman"), inheriting
// this process's stdio. It never starts a container runtime itself.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, binaryRef string, argv []string, env []string) (int, error) {
	runnerBin := os.Getenv("LOCAL_RUNNER")
	if runnerBin == "" {
		runnerBin = "podman"
	}

	runArgs := []string{"run", "--rm"}
	for _, kv := range env {
		runArgs = append(runArgs, "-e", kv)
	}
	runArgs = append(runArgs, binaryRef)
	runArgs = append(runArgs, argv...)

	cmd := exec.CommandContext(ctx, runnerBin, runArgs...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if ok := asExitError(err, &exitErr); ok {
		return exitErr.ExitCode(), nil
	}
	return 1, err
}

func asExitError(err error, target **exec.ExitError) bool {
	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return false
	}
	*target = exitErr
	return true
}

// RenderArgv resolves app's argument list into the strings a local binary
// invocation would receive, extra appended last. Port arguments read
// PORT_<UPPERCASED_NAME> to override their configured number; FileVariable
// and StringVariable arguments read <UPPERCASED_NAME> from the host
// environment, since there is no cluster Secret to source them from in a
// local run.
func RenderArgv(app configimage.Application, extra []string) ([]string, error) {
	var argv []string
	for _, values := range app.Args {
		arg, ok := values.Resolve("")
		if !ok {
			continue
		}
		val, err := resolveArgument(arg)
		if err != nil {
			return nil, err
		}
		argv = append(argv, val)
	}
	return append(argv, extra...), nil
}

// RenderEnv resolves app's env map into NAME=value pairs, appended to the
// host's own environment so the subprocess can still see e.g. PATH.
func RenderEnv(app configimage.Application, namespace string) ([]string, error) {
	env := os.Environ()
	if namespace != "" {
		env = append(env, "NAMESPACE="+namespace)
	}
	for name, values := range app.Env {
		arg, ok := values.Resolve("")
		if !ok {
			continue
		}
		val, err := resolveArgument(arg)
		if err != nil {
			return nil, err
		}
		env = append(env, fmt.Sprintf("%s=%s", name, val))
	}
	return env, nil
}

func resolveArgument(arg configimage.Argument) (string, error) {
	switch arg.Kind {
	case configimage.ArgumentString:
		return arg.String, nil

	case configimage.ArgumentPort:
		envName := "PORT_" + strings.ToUpper(arg.Port.Name)
		if override := os.Getenv(envName); override != "" {
			if _, err := strconv.Atoi(override); err != nil {
				return "", fmt.Errorf("%s: not a valid port number: %q", envName, override)
			}
			return override, nil
		}
		return strconv.Itoa(int(arg.Port.Number)), nil

	case configimage.ArgumentStringVariable:
		envName := strings.ToUpper(arg.StringVariable.Name)
		return os.Getenv(envName), nil

	case configimage.ArgumentFileVariable:
		envName := strings.ToUpper(arg.FileVariable.Name)
		value := os.Getenv(envName)
		path, err := writeTempFile(arg.FileVariable.Name, value)
		if err != nil {
			return "", err
		}
		return path, nil

	default:
		return "", fmt.Errorf("unknown argument kind %d", arg.Kind)
	}
}

func writeTempFile(name, content string) (string, error) {
	f, err := os.CreateTemp("", "localrun-"+name+"-*")
	if err != nil {
		return "", fmt.Errorf("creating file variable %q: %w", name, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return "", fmt.Errorf("writing file variable %q: %w", name, err)
	}
	return f.Name(), nil
}
