package cluster

import (
	"context"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/fields"
)

// WatchStatus logs every phase change of a pod until ctx is done or stop is called
func (c *Client) WatchStatus(ctx context.Context, name string) (stop func(), err error) {
	w, err := c.clientset.CoreV1().Pods(c.opts.Namespace).Watch(ctx, metav1.ListOptions{
		FieldSelector: fields.OneTermEqualSelector("metadata.name", name).String(),
	})
	if err != nil {
		return func() {}, err
	}

	go func() {
		for event := range w.ResultChan() {
			pod, ok := event.Object.(*corev1.Pod)
			if !ok {
				continue
			}
			c.logger.Info("[StatusChange]",
				zap.String("pod", pod.Name),
				zap.String("event", string(event.Type)),
				zap.String("phase", string(pod.Status.Phase)),
			)
		}
	}()
	return w.Stop, nil
}
