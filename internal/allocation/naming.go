package allocation

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

// MaxNameLength is the Kubernetes DNS label limit
const MaxNameLength = 63

func hash64(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return h.Sum64()
}

// StableRunID identifies a (revision, task) pair. Independent processes building the same
// revision compute the same id, which is how pre-clean finds leftovers of a crashed run.
func StableRunID(revision, task string) string {
	return strconv.FormatUint(hash64("run", revision, task), 36)
}

// Seed is the allocation seed shared by the orchestrator and every worker of a run
func Seed(revision, task string) int64 {
	return int64(hash64("seed", revision, task))
}

// PoolPrefix names the capacity pool of a test group for a given image tag. The
// preallocate and deallocate commands run in different processes and meet only here.
func PoolPrefix(imageTag, group string) string {
	return "pool-" + strconv.FormatUint(hash64("pool", imageTag, group), 36)
}

// WorkerName returns the pod (and volume) name of a shard. Long names are cut from the
// left so the distinguishing run id and index survive.
func WorkerName(task, runID string, index int) string {
	name := fmt.Sprintf("%s-%s-%d", SanitizeName(task), runID, index)
	return truncateLeft(name, MaxNameLength)
}

// SanitizeName lowercases s and replaces anything outside [a-z0-9-] with '-'
func SanitizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "task"
	}
	return out
}

func truncateLeft(name string, max int) string {
	if len(name) > max {
		name = name[len(name)-max:]
	}
	return strings.TrimLeft(name, "-")
}
