package cluster

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/util/wait"

	"shardrun/internal/domain"
)

const (
	scratchVolume = "testruns"
	cacheVolume   = "cache"
	// CacheMountPath is where the host cache directory is mounted in a worker
	CacheMountPath = "/tmp/cache"
	// TaintKey is the toleration key matched against node taints
	TaintKey = "key"
)

func withManagedBy(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	out[LabelApp] = managedBy
	return out
}

// BuildPod turns a worker spec into a pod. The worker container idles until commands are
// executed into it; placeholders keep the image's own entrypoint. A sidecar takes one core and one GiB from the worker's budget.
func (c *Client) BuildPod(spec domain.WorkerSpec) *corev1.Pod {
	cores, memory := spec.Cores, spec.MemoryGB
	if spec.SidecarImage != "" {
		cores, memory = max(cores-1, 1), max(memory-1, 1)
	}

	env := make([]corev1.EnvVar, 0, len(spec.Env))
	keys := make([]string, 0, len(spec.Env))
	for k := range spec.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, corev1.EnvVar{Name: k, Value: spec.Env[k]})
	}

	worker := corev1.Container{
		Name:  WorkerContainer,
		Image: spec.Image,
		Env:   env,
		Resources: corev1.ResourceRequirements{
			Requests: resourceList(cores, memory),
		},
	}
	if !spec.Placeholder {
		worker.Command = []string{"bash"}
		worker.Args = []string{"-c", "sleep infinity"}
	}

	pod := &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      spec.Name,
			Namespace: c.opts.Namespace,
			Labels:    withManagedBy(spec.Labels),
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Tolerations:   tolerations(spec.Taints),
		},
	}

	if spec.VolumeName != "" {
		pod.Spec.Volumes = append(pod.Spec.Volumes, corev1.Volume{
			Name: scratchVolume,
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: spec.VolumeName},
			},
		})
		worker.VolumeMounts = append(worker.VolumeMounts, corev1.VolumeMount{Name: scratchVolume, MountPath: c.opts.RunDir})
	}
	if spec.CacheHostDir != "" {
		hostPathType := corev1.HostPathDirectoryOrCreate
		pod.Spec.Volumes = append(pod.Spec.Volumes, corev1.Volume{
			Name: cacheVolume,
			VolumeSource: corev1.VolumeSource{
				HostPath: &corev1.HostPathVolumeSource{Path: spec.CacheHostDir, Type: &hostPathType},
			},
		})
		worker.VolumeMounts = append(worker.VolumeMounts, corev1.VolumeMount{Name: cacheVolume, MountPath: CacheMountPath})
	}

	pod.Spec.Containers = append(pod.Spec.Containers, worker)
	if spec.SidecarImage != "" {
		pod.Spec.Containers = append(pod.Spec.Containers, corev1.Container{
			Name:  "sidecar",
			Image: spec.SidecarImage,
			Resources: corev1.ResourceRequirements{
				Requests: resourceList(1, 1),
			},
		})
	}
	if c.opts.PullSecret != "" {
		pod.Spec.ImagePullSecrets = []corev1.LocalObjectReference{{Name: c.opts.PullSecret}}
	}
	return pod
}

func resourceList(cores, memoryGB int) corev1.ResourceList {
	list := corev1.ResourceList{}
	if cores > 0 {
		list[corev1.ResourceCPU] = resource.MustParse(strconv.Itoa(cores))
	}
	if memoryGB > 0 {
		list[corev1.ResourceMemory] = resource.MustParse(strconv.Itoa(memoryGB) + "Gi")
	}
	return list
}

func tolerations(taints []string) []corev1.Toleration {
	var out []corev1.Toleration
	for _, taint := range taints {
		out = append(out, corev1.Toleration{
			Key:      TaintKey,
			Operator: corev1.TolerationOpEqual,
			Value:    taint,
			Effect:   corev1.TaintEffectNoSchedule,
		})
	}
	return out
}

// CreateWorker creates the pod described by spec
func (c *Client) CreateWorker(ctx context.Context, spec domain.WorkerSpec) error {
	pod := c.BuildPod(spec)
	if _, err := c.clientset.CoreV1().Pods(c.opts.Namespace).Create(ctx, pod, metav1.CreateOptions{}); err != nil {
		return fmt.Errorf("failed to create pod %s: %w", spec.Name, err)
	}
	c.logger.Info("created pod", zap.String("pod", spec.Name), zap.String("image", spec.Image))
	return nil
}

// WaitReady blocks until every container of the pod is ready. A pod that terminates or
// does not become ready in time fails with ErrProvisionTimeout.
func (c *Client) WaitReady(ctx context.Context, name string) error {
	pods := c.clientset.CoreV1().Pods(c.opts.Namespace)
	c.logger.Info("waiting for pod to start", zap.String("pod", name))

	var terminal error
	err := wait.PollUntilContextTimeout(ctx, c.opts.PollInterval, c.opts.ReadyTimeout, true, func(ctx context.Context) (bool, error) {
		pod, err := pods.Get(ctx, name, metav1.GetOptions{})
		if err != nil {
			if apierrors.IsNotFound(err) {
				return false, nil
			}
			c.logger.Debug("polling pod readiness", zap.String("pod", name), zap.Error(err))
			return false, nil
		}
		switch pod.Status.Phase {
		case corev1.PodFailed, corev1.PodSucceeded:
			terminal = fmt.Errorf("pod %s terminated in phase %s", name, pod.Status.Phase)
			return false, terminal
		}
		return podReady(pod), nil
	})
	if err == nil {
		c.logger.Info("pod has started", zap.String("pod", name))
		return nil
	}
	if terminal != nil {
		return fmt.Errorf("%w: %w", domain.ErrProvisionTimeout, terminal)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("%w: pod %s not ready after %s", domain.ErrProvisionTimeout, name, c.opts.ReadyTimeout)
}

func podReady(pod *corev1.Pod) bool {
	if pod.Status.Phase != corev1.PodRunning {
		return false
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			return cond.Status == corev1.ConditionTrue
		}
	}
	return false
}

// DeleteWorker deletes the pod and waits until it is gone
func (c *Client) DeleteWorker(ctx context.Context, name string) error {
	pods := c.clientset.CoreV1().Pods(c.opts.Namespace)
	if err := ignoreNotFound(pods.Delete(ctx, name, metav1.DeleteOptions{})); err != nil {
		return fmt.Errorf("failed to delete pod %s: %w", name, err)
	}
	return c.awaitAbsence(ctx, "pod", name, func(ctx context.Context) error {
		_, err := pods.Get(ctx, name, metav1.GetOptions{})
		return err
	})
}

// ListWorkers returns the names of pods carrying every given label, sorted
func (c *Client) ListWorkers(ctx context.Context, selector map[string]string) ([]string, error) {
	list, err := c.clientset.CoreV1().Pods(c.opts.Namespace).List(ctx, metav1.ListOptions{
		LabelSelector: labels.SelectorFromSet(selector).String(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pods: %w", err)
	}
	names := make([]string, 0, len(list.Items))
	for _, p := range list.Items {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names, nil
}

// DeleteWorkers deletes every pod matching the exact label set and returns their names.
// No match is not an error.
func (c *Client) DeleteWorkers(ctx context.Context, selector map[string]string) ([]string, error) {
	names, err := c.ListWorkers(ctx, selector)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		c.logger.Info("deleting pod", zap.String("pod", name))
		if err := c.DeleteWorker(ctx, name); err != nil {
			return names, err
		}
	}
	return names, nil
}
