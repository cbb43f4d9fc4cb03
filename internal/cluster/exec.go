package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/remotecommand"
	utilexec "k8s.io/client-go/util/exec"

	"shardrun/internal/domain"
)

// Exec runs command in the worker container, streaming its output. The returned status
// is Known only when the API server reported a non-zero exit code. A clean stream end is
// reported as unknown, because the server sends no status when the connection drops
// early either; callers combine this with the status the command prints itself.
func (c *Client) Exec(ctx context.Context, name string, command []string, stdout, stderr io.Writer) (domain.ExitStatus, error) {
	if c.restConfig == nil {
		return domain.ExitStatus{}, errors.New("exec requires a REST config")
	}

	req := c.clientset.CoreV1().RESTClient().Post().
		Resource("pods").
		Namespace(c.opts.Namespace).
		Name(name).
		SubResource("exec").
		VersionedParams(&corev1.PodExecOptions{
			Container: WorkerContainer,
			Command:   command,
			Stdout:    stdout != nil,
			Stderr:    stderr != nil,
		}, scheme.ParameterCodec)

	executor, err := remotecommand.NewSPDYExecutor(c.restConfig, "POST", req.URL())
	if err != nil {
		return domain.ExitStatus{}, fmt.Errorf("failed to create executor for pod %s: %w", name, err)
	}

	err = executor.StreamWithContext(ctx, remotecommand.StreamOptions{Stdout: stdout, Stderr: stderr})
	return ExecStatus(err)
}

// ExecStatus interprets the error returned by a remote command stream
func ExecStatus(err error) (domain.ExitStatus, error) {
	if err == nil {
		return domain.ExitStatus{}, nil
	}
	var exitErr utilexec.ExitError
	if errors.As(err, &exitErr) {
		return domain.ExitStatus{Code: exitErr.ExitStatus(), Known: true}, nil
	}
	return domain.ExitStatus{}, err
}
