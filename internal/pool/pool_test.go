package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"shardrun/internal/allocation"
	"shardrun/internal/cluster"
	"shardrun/internal/config"
	"shardrun/internal/domain"
)

func newTestPool(t *testing.T) (*Pool, *cluster.Client) {
	t.Helper()
	client := cluster.New(fake.NewSimpleClientset(), nil, cluster.Options{
		Namespace:     "ci",
		DeleteTimeout: 100 * time.Millisecond,
		PollInterval:  10 * time.Millisecond,
	}, nil)
	return NewPool(config.New(), client, nil), client
}

func TestPreAllocateAndRelease(t *testing.T) {
	p, client := newTestPool(t)
	ctx := context.Background()

	names, err := p.PreAllocate(ctx, Request{Count: 3, Cores: 2, MemoryGB: 4, Prefix: "pool-a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"pool-a-0", "pool-a-1", "pool-a-2"}, names)

	existing, err := client.ListWorkers(ctx, map[string]string{cluster.LabelPool: "pool-a"})
	require.NoError(t, err)
	assert.Len(t, existing, 3)

	deleted, err := p.Release(ctx, "pool-a")
	require.NoError(t, err)
	assert.Len(t, deleted, 3)
}

func TestPlaceholderRunsImageEntrypoint(t *testing.T) {
	clientset := fake.NewSimpleClientset()
	client := cluster.New(clientset, nil, cluster.Options{Namespace: "ci"}, nil)
	p := NewPool(config.New(), client, nil)

	_, err := p.PreAllocate(context.Background(), Request{Count: 1, Cores: 2, MemoryGB: 2, Prefix: "pool-a"})
	require.NoError(t, err)

	pod, err := clientset.CoreV1().Pods("ci").Get(context.Background(), "pool-a-0", metav1.GetOptions{})
	require.NoError(t, err)
	require.Len(t, pod.Spec.Containers, 1)
	container := pod.Spec.Containers[0]
	assert.Equal(t, config.DefaultPlaceholderImage, container.Image)
	// the pause image has no shell
	assert.Empty(t, container.Command)
	assert.Empty(t, container.Args)
}

func TestPreAllocateTwiceIsIdempotent(t *testing.T) {
	p, client := newTestPool(t)
	ctx := context.Background()

	_, err := p.PreAllocate(ctx, Request{Count: 2, Prefix: "pool-a"})
	require.NoError(t, err)
	_, err = p.PreAllocate(ctx, Request{Count: 2, Prefix: "pool-a"})
	require.NoError(t, err)

	existing, err := client.ListWorkers(ctx, map[string]string{cluster.LabelPool: "pool-a"})
	require.NoError(t, err)
	assert.Len(t, existing, 2)
}

func TestReleaseIsIdempotent(t *testing.T) {
	p, _ := newTestPool(t)
	ctx := context.Background()

	deleted, err := p.Release(ctx, "never-booked")
	require.NoError(t, err)
	assert.Empty(t, deleted)

	_, err = p.PreAllocate(ctx, Request{Count: 1, Prefix: "pool-b"})
	require.NoError(t, err)
	_, err = p.Release(ctx, "pool-b")
	require.NoError(t, err)
	deleted, err = p.Release(ctx, "pool-b")
	require.NoError(t, err)
	assert.Empty(t, deleted)
}

func TestReleaseDoesNotTouchPrefixedPools(t *testing.T) {
	p, client := newTestPool(t)
	ctx := context.Background()

	_, err := p.PreAllocate(ctx, Request{Count: 2, Prefix: "abc"})
	require.NoError(t, err)
	_, err = p.PreAllocate(ctx, Request{Count: 2, Prefix: "abcd"})
	require.NoError(t, err)

	deleted, err := p.Release(ctx, "abc")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"abc-0", "abc-1"}, deleted)

	remaining, err := client.ListWorkers(ctx, map[string]string{cluster.LabelPool: "abcd"})
	require.NoError(t, err)
	assert.Equal(t, []string{"abcd-0", "abcd-1"}, remaining)
}

func TestPoolGroupsDoNotCollide(t *testing.T) {
	p, client := newTestPool(t)
	ctx := context.Background()

	unit := allocation.PoolPrefix("v1", "unit")
	integration := allocation.PoolPrefix("v1", "integration")

	_, err := p.PreAllocate(ctx, Request{Count: 1, Prefix: unit})
	require.NoError(t, err)
	_, err = p.PreAllocate(ctx, Request{Count: 1, Prefix: integration})
	require.NoError(t, err)

	_, err = p.Release(ctx, unit)
	require.NoError(t, err)

	remaining, err := client.ListWorkers(ctx, map[string]string{cluster.LabelPool: integration})
	require.NoError(t, err)
	assert.Len(t, remaining, 1)
}

func TestPreAllocateValidation(t *testing.T) {
	p, _ := newTestPool(t)
	_, err := p.PreAllocate(context.Background(), Request{Count: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = p.PreAllocate(context.Background(), Request{Count: -1, Prefix: "x"})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
	_, err = p.Release(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
