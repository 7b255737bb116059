package ports

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestSequential_VisitsWholeRangeThenWraps(t *testing.T) {
	alloc := NewSequential(DefaultMin, DefaultMax)

	seen := make(map[int]struct{}, DefaultMax-DefaultMin)
	first := alloc.Next()
	seen[first] = struct{}{}
	for i := 1; i < DefaultMax-DefaultMin; i++ {
		p := alloc.Next()
		require.GreaterOrEqual(t, p, DefaultMin)
		require.Less(t, p, DefaultMax)
		seen[p] = struct{}{}
	}

	assert.Len(t, seen, DefaultMax-DefaultMin)
	assert.Equal(t, first, alloc.Next(), "call 10001 should wrap to the first port")
}

func TestSequential_FirstCallReturnsMin(t *testing.T) {
	alloc := NewSequential(5000, 5003)
	assert.Equal(t, []int{5000, 5001, 5002, 5000}, []int{alloc.Next(), alloc.Next(), alloc.Next(), alloc.Next()})
}

func TestSequential_InvalidRangeUsesDefaults(t *testing.T) {
	alloc := NewSequential(10, 5)
	minPort, maxPort := alloc.Range()
	assert.Equal(t, DefaultMin, minPort)
	assert.Equal(t, DefaultMax, maxPort)
}

func TestSequential_ConcurrentCallsAreDistinct(t *testing.T) {
	alloc := NewSequential(20000, 21000)

	var mu sync.Mutex
	got := make(map[int]int)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				p := alloc.Next()
				mu.Lock()
				got[p]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, got, 500)
}

func TestSequential_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lo := rapid.IntRange(1, 60000).Draw(t, "min")
		size := rapid.IntRange(1, 200).Draw(t, "size")
		alloc := NewSequential(lo, lo+size)

		for i := 0; i < size; i++ {
			if p := alloc.Next(); p != lo+i {
				t.Fatalf("draw %d: got %d, want %d", i, p, lo+i)
			}
		}
		if p := alloc.Next(); p != lo {
			t.Fatalf("expected wrap to %d, got %d", lo, p)
		}
	})
}

type staticTable struct {
	used map[int]struct{}
	err  error
}

func (s staticTable) InUsePorts() (map[int]struct{}, error) {
	return s.used, s.err
}

func TestHostAware_NeverReturnsInUsePort(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		size := rapid.IntRange(2, 100).Draw(t, "size")
		lo := 40000
		all := make([]int, size)
		for i := range all {
			all[i] = lo + i
		}
		shuffled := rapid.Permutation(all).Draw(t, "shuffled")
		taken := shuffled[:rapid.IntRange(0, size-1).Draw(t, "taken")]

		used := make(map[int]struct{}, len(taken))
		for _, p := range taken {
			used[p] = struct{}{}
		}

		alloc := NewHostAware(NewSequential(lo, lo+size), staticTable{used: used})
		draws := rapid.IntRange(1, 3*size).Draw(t, "draws")
		for i := 0; i < draws; i++ {
			p := alloc.Next()
			if _, bad := used[p]; bad {
				t.Fatalf("allocator returned in-use port %d", p)
			}
		}
	})
}

func TestHostAware_FallsBackWhenTableFails(t *testing.T) {
	alloc := NewHostAware(NewSequential(6000, 6010), staticTable{err: errors.New("no /proc")})

	assert.Equal(t, 6000, alloc.Next())
	assert.Equal(t, 6001, alloc.Next())
}

func TestHostAware_GivesUpAfterOneLap(t *testing.T) {
	used := map[int]struct{}{7000: {}, 7001: {}, 7002: {}}
	alloc := NewHostAware(NewSequential(7000, 7003), staticTable{used: used})

	p := alloc.Next()
	assert.Contains(t, []int{7000, 7001, 7002}, p)
}

// writeProcNet writes a minimal procfs tree with the given /proc/net/tcp rows.
func writeProcNet(t *testing.T, rows ...string) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "net"), 0o755))

	header := "  sl  local_address rem_address   st tx_queue rx_queue tr tm->when retrnsmt   uid  timeout inode"
	content := header + "\n" + strings.Join(rows, "\n") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(root, "net", "tcp"), []byte(content), 0o644))
	return root
}

func TestProcTable_InUsePorts(t *testing.T) {
	root := writeProcNet(t,
		// 127.0.0.1:30000 listening
		"   0: 0100007F:7530 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 11111 1 0000000000000000 100 0 0 10 0",
		// 127.0.0.1:30001 established to 127.0.0.1:50000
		"   1: 0100007F:7531 0100007F:C350 01 00000000:00000000 00:00000000 00000000  1000        0 22222 1 0000000000000000 20 4 30 10 -1",
	)

	table, err := NewProcTable(root)
	require.NoError(t, err)

	used, err := table.InUsePorts()
	require.NoError(t, err)
	assert.Contains(t, used, 30000)
	assert.NotContains(t, used, 30001)
}

func TestProcTable_HostAwareSkipsListeningPort(t *testing.T) {
	root := writeProcNet(t,
		"   0: 0100007F:7530 00000000:0000 0A 00000000:00000000 00:00000000 00000000  1000        0 11111 1 0000000000000000 100 0 0 10 0",
	)
	table, err := NewProcTable(root)
	require.NoError(t, err)

	alloc := NewHostAware(NewSequential(30000, 30010), table)
	assert.Equal(t, 30001, alloc.Next())
}

func TestSequential_ExclusiveUpperBoundReachesLastPort(t *testing.T) {
	s := NewSequential(65534, 65536)
	assert.Equal(t, []int{65534, 65535, 65534}, []int{s.Next(), s.Next(), s.Next()})
}
