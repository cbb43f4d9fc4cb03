package cluster

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
	utilexec "k8s.io/client-go/util/exec"

	"shardrun/internal/domain"
)

func newTestClient(t *testing.T, objects ...runtime.Object) (*Client, *fake.Clientset) {
	t.Helper()
	clientset := fake.NewSimpleClientset(objects...)
	client := New(clientset, nil, Options{
		Namespace:     "ci",
		PullSecret:    "regcred",
		ReadyTimeout:  200 * time.Millisecond,
		DeleteTimeout: 100 * time.Millisecond,
		PollInterval:  10 * time.Millisecond,
	}, nil)
	return client, clientset
}

func workerSpec(name string) domain.WorkerSpec {
	return domain.WorkerSpec{
		Name:       name,
		Image:      "registry.local/app:abc",
		VolumeName: name,
		Cores:      4,
		MemoryGB:   8,
		Taints:     []string{"tests"},
		Env:        map[string]string{"SHARDRUN_SHARD_INDEX": "1", "SHARDRUN_SHARD_COUNT": "3"},
		Labels:     map[string]string{LabelRunID: "abc", LabelShard: "1"},
	}
}

func TestBuildPod(t *testing.T) {
	client, _ := newTestClient(t)
	spec := workerSpec("task-abc-1")
	spec.CacheHostDir = "/cache/1-task"

	pod := client.BuildPod(spec)

	assert.Equal(t, "ci", pod.Namespace)
	assert.Equal(t, corev1.RestartPolicyNever, pod.Spec.RestartPolicy)
	assert.Equal(t, managedBy, pod.Labels[LabelApp])
	assert.Equal(t, "abc", pod.Labels[LabelRunID])
	require.Len(t, pod.Spec.ImagePullSecrets, 1)
	assert.Equal(t, "regcred", pod.Spec.ImagePullSecrets[0].Name)

	require.Len(t, pod.Spec.Tolerations, 1)
	assert.Equal(t, "tests", pod.Spec.Tolerations[0].Value)
	assert.Equal(t, corev1.TaintEffectNoSchedule, pod.Spec.Tolerations[0].Effect)

	require.Len(t, pod.Spec.Containers, 1)
	worker := pod.Spec.Containers[0]
	assert.Equal(t, WorkerContainer, worker.Name)
	assert.Equal(t, "4", worker.Resources.Requests.Cpu().String())
	assert.Equal(t, "8Gi", worker.Resources.Requests.Memory().String())
	require.Len(t, worker.Env, 2)
	assert.Equal(t, "SHARDRUN_SHARD_COUNT", worker.Env[0].Name)

	require.Len(t, pod.Spec.Volumes, 2)
	assert.Equal(t, "task-abc-1", pod.Spec.Volumes[0].PersistentVolumeClaim.ClaimName)
	assert.Equal(t, "/cache/1-task", pod.Spec.Volumes[1].HostPath.Path)
	require.Len(t, worker.VolumeMounts, 2)
	assert.Equal(t, "/test-runs", worker.VolumeMounts[0].MountPath)
	assert.Equal(t, CacheMountPath, worker.VolumeMounts[1].MountPath)
}

func TestBuildPodWithSidecarReducesWorkerResources(t *testing.T) {
	client, _ := newTestClient(t)
	spec := workerSpec("task-abc-0")
	spec.SidecarImage = "postgres:16"

	pod := client.BuildPod(spec)

	require.Len(t, pod.Spec.Containers, 2)
	assert.Equal(t, "3", pod.Spec.Containers[0].Resources.Requests.Cpu().String())
	assert.Equal(t, "7Gi", pod.Spec.Containers[0].Resources.Requests.Memory().String())
	assert.Equal(t, "postgres:16", pod.Spec.Containers[1].Image)
	assert.Equal(t, "1", pod.Spec.Containers[1].Resources.Requests.Cpu().String())
}

func TestBuildPodPlaceholderHasNoVolumes(t *testing.T) {
	client, _ := newTestClient(t)
	pod := client.BuildPod(domain.WorkerSpec{Name: "pool-x-0", Image: "pause", Cores: 2, MemoryGB: 2})
	assert.Empty(t, pod.Spec.Volumes)
	assert.Empty(t, pod.Spec.Containers[0].VolumeMounts)
}

func TestBuildPodCommand(t *testing.T) {
	client, _ := newTestClient(t)

	worker := client.BuildPod(domain.WorkerSpec{Name: "w-0", Image: "app"})
	assert.Equal(t, []string{"bash"}, worker.Spec.Containers[0].Command)
	assert.Equal(t, []string{"-c", "sleep infinity"}, worker.Spec.Containers[0].Args)

	placeholder := client.BuildPod(domain.WorkerSpec{Name: "pool-x-0", Image: "pause", Placeholder: true})
	assert.Empty(t, placeholder.Spec.Containers[0].Command)
	assert.Empty(t, placeholder.Spec.Containers[0].Args)
}

func markReady(t *testing.T, clientset *fake.Clientset, name string) {
	t.Helper()
	pods := clientset.CoreV1().Pods("ci")
	pod, err := pods.Get(context.Background(), name, metav1.GetOptions{})
	require.NoError(t, err)
	pod.Status.Phase = corev1.PodRunning
	pod.Status.Conditions = []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}}
	_, err = pods.Update(context.Background(), pod, metav1.UpdateOptions{})
	require.NoError(t, err)
}

func TestCreateWorkerAndWaitReady(t *testing.T) {
	client, clientset := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.CreateWorker(ctx, workerSpec("task-abc-1")))
	markReady(t, clientset, "task-abc-1")

	assert.NoError(t, client.WaitReady(ctx, "task-abc-1"))
}

func TestWaitReadyTimeout(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.CreateWorker(ctx, workerSpec("task-abc-1")))

	err := client.WaitReady(ctx, "task-abc-1")
	assert.ErrorIs(t, err, domain.ErrProvisionTimeout)
}

func TestWaitReadyTerminatedPod(t *testing.T) {
	client, clientset := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.CreateWorker(ctx, workerSpec("task-abc-1")))

	pods := clientset.CoreV1().Pods("ci")
	pod, err := pods.Get(ctx, "task-abc-1", metav1.GetOptions{})
	require.NoError(t, err)
	pod.Status.Phase = corev1.PodFailed
	_, err = pods.Update(ctx, pod, metav1.UpdateOptions{})
	require.NoError(t, err)

	err = client.WaitReady(ctx, "task-abc-1")
	assert.ErrorIs(t, err, domain.ErrProvisionTimeout)
	assert.Contains(t, err.Error(), "Failed")
}

func TestDeleteWorkerToleratesMissingPod(t *testing.T) {
	client, _ := newTestClient(t)
	assert.NoError(t, client.DeleteWorker(context.Background(), "never-created"))
}

func TestDeleteWorkerTimesOut(t *testing.T) {
	client, clientset := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, client.CreateWorker(ctx, workerSpec("stuck")))

	clientset.PrependReactor("delete", "pods", func(action k8stesting.Action) (bool, runtime.Object, error) {
		return true, nil, nil
	})

	err := client.DeleteWorker(ctx, "stuck")
	assert.ErrorIs(t, err, domain.ErrDeleteTimeout)
}

func TestDeleteWorkersMatchesExactLabel(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	for _, spec := range []domain.WorkerSpec{
		{Name: "abc-0", Image: "pause", Labels: map[string]string{LabelPool: "abc"}},
		{Name: "abc-1", Image: "pause", Labels: map[string]string{LabelPool: "abc"}},
		{Name: "abcd-0", Image: "pause", Labels: map[string]string{LabelPool: "abcd"}},
	} {
		require.NoError(t, client.CreateWorker(ctx, spec))
	}

	deleted, err := client.DeleteWorkers(ctx, map[string]string{LabelPool: "abc"})
	require.NoError(t, err)
	assert.Equal(t, []string{"abc-0", "abc-1"}, deleted)

	remaining, err := client.ListWorkers(ctx, map[string]string{LabelApp: managedBy})
	require.NoError(t, err)
	assert.Equal(t, []string{"abcd-0"}, remaining)

	deleted, err = client.DeleteWorkers(ctx, map[string]string{LabelPool: "abc"})
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

func TestVolumeLifecycle(t *testing.T) {
	client, clientset := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, client.CreateVolume(ctx, "task-abc-0", map[string]string{LabelRunID: "abc"}))
	require.NoError(t, client.CreateVolume(ctx, "task-abc-0", nil), "existing volume is reused")

	pvc, err := clientset.CoreV1().PersistentVolumeClaims("ci").Get(ctx, "task-abc-0", metav1.GetOptions{})
	require.NoError(t, err)
	assert.Equal(t, "10Gi", pvc.Spec.Resources.Requests.Storage().String())

	require.NoError(t, client.DeleteVolume(ctx, "task-abc-0"))
	require.NoError(t, client.DeleteVolume(ctx, "task-abc-0"))
}

func TestExecWithoutRESTConfig(t *testing.T) {
	client, _ := newTestClient(t)
	_, err := client.Exec(context.Background(), "pod", []string{"true"}, nil, nil)
	assert.Error(t, err)
}

func TestExecStatus(t *testing.T) {
	status, err := ExecStatus(nil)
	require.NoError(t, err)
	assert.False(t, status.Known)

	status, err = ExecStatus(utilexec.CodeExitError{Err: errors.New("command terminated with exit code 3"), Code: 3})
	require.NoError(t, err)
	assert.Equal(t, domain.ExitStatus{Code: 3, Known: true}, status)

	_, err = ExecStatus(errors.New("connection reset"))
	assert.Error(t, err)
}

func writeTar(t *testing.T, entries map[string]string) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for name, body := range entries {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	return &buf
}

func TestUntar(t *testing.T) {
	dest := t.TempDir()
	archive := writeTar(t, map[string]string{
		"./suite-a/results.xml":  "<testsuites/>",
		"./suite-b/deep/out.txt": "log",
		"../escape.txt":          "nope",
	})

	files, err := Untar(archive, dest)
	require.NoError(t, err)
	assert.Equal(t, 3, files)

	data, err := os.ReadFile(filepath.Join(dest, "suite-a", "results.xml"))
	require.NoError(t, err)
	assert.Equal(t, "<testsuites/>", string(data))

	_, err = os.Stat(filepath.Join(filepath.Dir(dest), "escape.txt"))
	assert.True(t, os.IsNotExist(err), "entries must not escape the destination")
}
