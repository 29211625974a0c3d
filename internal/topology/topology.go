// Package topology describes the CPUs the allocator partitions its state across.
// Hyper-threaded siblings share a physical core, and the nano allocator gives
// each physical core one magazine.
package topology

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"runtime"
	"sort"
	"strconv"
	"strings"
)

var (
	// ErrInvalid is returned for non-positive CPU counts.
	ErrInvalid = errors.New("topology: cpu counts must be positive")

	// ErrUnsupportedRatio is returned when logical CPUs are not 1, 2 or 4 times the physical count.
	ErrUnsupportedRatio = errors.New("topology: logical:physical cpu ratio must be 1, 2 or 4")
)

const sysCPUDir = "/sys/devices/system/cpu"

// Topology holds the process-start CPU layout.
type Topology struct {
	Physical int
	Logical  int

	shift     uint
	magazines []int // logical cpu -> physical index, nil when derived from shift
}

// New validates the counts and derives the hyper-threading shift.
func New(physical, logical int) (Topology, error) {
	if physical <= 0 || logical <= 0 {
		return Topology{}, ErrInvalid
	}
	if logical%physical != 0 {
		return Topology{}, fmt.Errorf("%w: %d logical / %d physical", ErrUnsupportedRatio, logical, physical)
	}
	var shift uint
	switch logical / physical {
	case 1:
		shift = 0
	case 2:
		shift = 1
	case 4:
		shift = 2
	default:
		return Topology{}, fmt.Errorf("%w: %d logical / %d physical", ErrUnsupportedRatio, logical, physical)
	}
	return Topology{Physical: physical, Logical: logical, shift: shift}, nil
}

// HyperShift is log2 of the logical:physical ratio.
func (t Topology) HyperShift() uint { return t.shift }

// Magazine maps a logical CPU number to its physical core index.
func (t Topology) Magazine(cpu int) int {
	if cpu < 0 {
		return 0
	}
	if cpu < len(t.magazines) {
		return t.magazines[cpu]
	}
	if t.Physical == 0 {
		return 0
	}
	return (cpu >> t.shift) % t.Physical
}

func (t Topology) String() string {
	return fmt.Sprintf("%d physical, %d logical (ratio %d)", t.Physical, t.Logical, 1<<t.shift)
}

// Detect reads the layout from sysfs. When sysfs is unavailable every CPU
// reported by the runtime is treated as a physical core.
func Detect() (Topology, error) {
	t, err := DetectFrom(os.DirFS(sysCPUDir))
	if errors.Is(err, fs.ErrNotExist) {
		n := runtime.NumCPU()
		return New(n, n)
	}
	return t, err
}

var cpuDirPattern = regexp.MustCompile(`^cpu[0-9]+$`)

type coreKey struct {
	pkg  int
	core int
}

// DetectFrom reads cpuN/topology/{physical_package_id,core_id} from fsys, which
// is rooted at the sysfs cpu directory.
func DetectFrom(fsys fs.FS) (Topology, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return Topology{}, err
	}

	var cpus []int
	for _, e := range entries {
		if !cpuDirPattern.MatchString(e.Name()) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), "cpu"))
		if err != nil {
			continue
		}
		cpus = append(cpus, n)
	}
	if len(cpus) == 0 {
		return Topology{}, fmt.Errorf("topology: no cpus listed: %w", fs.ErrNotExist)
	}
	sort.Ints(cpus)

	cores := make(map[coreKey]int)
	magazines := make([]int, cpus[len(cpus)-1]+1)
	for _, cpu := range cpus {
		pkg, err := readInt(fsys, cpu, "physical_package_id")
		if err != nil {
			return Topology{}, err
		}
		core, err := readInt(fsys, cpu, "core_id")
		if err != nil {
			return Topology{}, err
		}
		key := coreKey{pkg: pkg, core: core}
		idx, ok := cores[key]
		if !ok {
			idx = len(cores)
			cores[key] = idx
		}
		magazines[cpu] = idx
	}

	t, err := New(len(cores), len(cpus))
	if err != nil {
		return Topology{}, err
	}
	t.magazines = magazines
	return t, nil
}

func readInt(fsys fs.FS, cpu int, name string) (int, error) {
	data, err := fs.ReadFile(fsys, fmt.Sprintf("cpu%d/topology/%s", cpu, name))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}
