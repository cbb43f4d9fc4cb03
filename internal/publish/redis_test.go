package publish

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shardrun/internal/config"
	"shardrun/internal/domain"
)

type fakeList struct {
	items   map[string][]string
	pushErr error
}

func (f *fakeList) LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	if f.pushErr != nil {
		cmd.SetErr(f.pushErr)
		return cmd
	}
	for _, v := range values {
		f.items[key] = append([]string{v.(string)}, f.items[key]...)
	}
	cmd.SetVal(int64(len(f.items[key])))
	return cmd
}

func (f *fakeList) LTrim(ctx context.Context, key string, start, stop int64) *redis.StatusCmd {
	list := f.items[key]
	if stop+1 < int64(len(list)) {
		f.items[key] = list[start : stop+1]
	}
	cmd := redis.NewStatusCmd(ctx)
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeList) LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd {
	list := f.items[key]
	if stop+1 < int64(len(list)) {
		list = list[start : stop+1]
	}
	cmd := redis.NewStringSliceCmd(ctx)
	cmd.SetVal(list)
	return cmd
}

func TestPublishNewestFirst(t *testing.T) {
	list := &fakeList{items: map[string][]string{}}
	p := NewRedisPublisherWithClient(list, "", nil)

	ctx := context.Background()
	require.NoError(t, p.Publish(ctx, domain.RunResultsMeta{RunID: "a", TotalShards: 2}))
	require.NoError(t, p.Publish(ctx, domain.RunResultsMeta{RunID: "b", FailedShards: 1}))

	assert.Len(t, list.items[config.DefaultRedisKey], 2)

	recent, err := p.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "b", recent[0].RunID)
	assert.Equal(t, 1, recent[0].FailedShards)
	assert.Equal(t, "a", recent[1].RunID)
}

func TestPublishTrimsHistory(t *testing.T) {
	list := &fakeList{items: map[string][]string{}}
	p := NewRedisPublisherWithClient(list, "runs", nil)
	p.history = 3

	for _, id := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, p.Publish(context.Background(), domain.RunResultsMeta{RunID: id}))
	}
	recent, err := p.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "5", recent[0].RunID)
	assert.Equal(t, "3", recent[2].RunID)
}

func TestRecentSkipsMalformed(t *testing.T) {
	list := &fakeList{items: map[string][]string{"runs": {"not json", `{"run_id":"ok"}`}}}
	p := NewRedisPublisherWithClient(list, "runs", nil)

	recent, err := p.Recent(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "ok", recent[0].RunID)

	none, err := p.Recent(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestPublishError(t *testing.T) {
	p := NewRedisPublisherWithClient(&fakeList{items: map[string][]string{}, pushErr: errors.New("READONLY")}, "runs", nil)
	err := p.Publish(context.Background(), domain.RunResultsMeta{RunID: "x"})
	assert.ErrorContains(t, err, "READONLY")
	assert.NoError(t, p.Close())
}

func TestNewRedisPublisherRequiresAddr(t *testing.T) {
	_, err := NewRedisPublisher(context.Background(), config.RedisConfig{}, nil)
	assert.Error(t, err)
}
