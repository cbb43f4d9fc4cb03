package cluster

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// BuildVolume returns the scratch volume claim of a worker
func (c *Client) BuildVolume(name string, labels map[string]string) (*corev1.PersistentVolumeClaim, error) {
	size, err := resource.ParseQuantity(c.opts.VolumeSize)
	if err != nil {
		return nil, fmt.Errorf("invalid volume size %q: %w", c.opts.VolumeSize, err)
	}

	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: c.opts.Namespace,
			Labels:    withManagedBy(labels),
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: size},
			},
		},
	}
	if c.opts.StorageClass != "" {
		pvc.Spec.StorageClassName = &c.opts.StorageClass
	}
	return pvc, nil
}

// CreateVolume creates the scratch volume. An existing volume with the same name is reused.
func (c *Client) CreateVolume(ctx context.Context, name string, labels map[string]string) error {
	pvc, err := c.BuildVolume(name, labels)
	if err != nil {
		return err
	}
	_, err = c.clientset.CoreV1().PersistentVolumeClaims(c.opts.Namespace).Create(ctx, pvc, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		c.logger.Debug("volume already exists", zap.String("volume", name))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to create volume %s: %w", name, err)
	}
	c.logger.Info("created volume", zap.String("volume", name))
	return nil
}

// DeleteVolume deletes the volume and waits until it is gone
func (c *Client) DeleteVolume(ctx context.Context, name string) error {
	claims := c.clientset.CoreV1().PersistentVolumeClaims(c.opts.Namespace)
	if err := ignoreNotFound(claims.Delete(ctx, name, metav1.DeleteOptions{})); err != nil {
		return fmt.Errorf("failed to delete volume %s: %w", name, err)
	}
	return c.awaitAbsence(ctx, "volume", name, func(ctx context.Context) error {
		_, err := claims.Get(ctx, name, metav1.GetOptions{})
		return err
	})
}
