// Command alloqbench runs a fixed matrix of allocation workloads across
// every allocator policy and writes one CSV per workload into a freshly
// created, uniquely named output directory.
package main

import (
	"crypto/sha256"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/alloq-go/alloq/internal/allocator"
	"github.com/alloq-go/alloq/internal/container"
)

// heapSize is large enough to carry every workload at the largest count
// (1000 elements) under every policy, including pool's descriptor overhead.
const heapSize = 1 << 22

const (
	maxCount = 1000
	step     = 50
)

type policy struct {
	name string
	new  func() allocator.Allocator
}

func policies() []policy {
	return []policy{
		{"bump", func() allocator.Allocator { return allocator.NewBump(make([]byte, heapSize)) }},
		{"debump", func() allocator.Allocator { return mustDebump(make([]byte, heapSize)) }},
		{"statiq", func() allocator.Allocator { return allocator.NewStatiq(make([]byte, heapSize)) }},
		{"pool", func() allocator.Allocator { return mustPool(make([]byte, heapSize)) }},
		{"freelist-firstfit", func() allocator.Allocator { return mustFreeList(make([]byte, heapSize), allocator.FirstFit) }},
		{"freelist-bestfit", func() allocator.Allocator { return mustFreeList(make([]byte, heapSize), allocator.BestFit) }},
		{"system", func() allocator.Allocator { return allocator.NewSystem() }},
	}
}

func mustDebump(buf []byte) allocator.Allocator {
	a, err := allocator.NewDebump(buf)
	if err != nil {
		panic(err)
	}

	return a
}

func mustPool(buf []byte) allocator.Allocator {
	a, err := allocator.NewPool(buf)
	if err != nil {
		panic(err)
	}

	return a
}

func mustFreeList(buf []byte, fit allocator.FitPolicy) allocator.Allocator {
	a, err := allocator.NewFreeList(buf, fit)
	if err != nil {
		panic(err)
	}

	return a
}

var recordLayout = allocator.LayoutOf(4, 4)

type workload struct {
	name string
	run  func(a allocator.Allocator, count int) error
}

func workloads() []workload {
	return []workload{
		{"linear-allocation", linearAllocation},
		{"linear-deallocation-fifo", linearDeallocationFIFO},
		{"reverse-deallocation-lifo", reverseDeallocationLIFO},
		{"vector-pushing", vectorPushing},
		{"vector-fragmentation", vectorFragmentation},
		{"reset", resetWorkload},
	}
}

func linearAllocation(a allocator.Allocator, count int) error {
	for i := 0; i < count; i++ {
		if _, err := a.Allocate(recordLayout); err != nil {
			return err
		}
	}

	return nil
}

func linearDeallocationFIFO(a allocator.Allocator, count int) error {
	addrs := make([]uintptr, 0, count)

	for i := 0; i < count; i++ {
		p, err := a.Allocate(recordLayout)
		if err != nil {
			return err
		}

		addrs = append(addrs, p)
	}

	for _, p := range addrs {
		if err := a.Deallocate(p, recordLayout); err != nil {
			return err
		}
	}

	return nil
}

func reverseDeallocationLIFO(a allocator.Allocator, count int) error {
	addrs := make([]uintptr, 0, count)

	for i := 0; i < count; i++ {
		p, err := a.Allocate(recordLayout)
		if err != nil {
			return err
		}

		addrs = append(addrs, p)
	}

	for i := len(addrs) - 1; i >= 0; i-- {
		if err := a.Deallocate(addrs[i], recordLayout); err != nil {
			return err
		}
	}

	return nil
}

func vectorPushing(a allocator.Allocator, count int) error {
	v := container.NewVec[int32](a)

	for i := 0; i < count; i++ {
		if err := v.Push(int32(i)); err != nil {
			return err
		}
	}

	return nil
}

func vectorFragmentation(a allocator.Allocator, count int) error {
	vecs := []*container.Vec[int32]{
		container.NewVec[int32](a),
		container.NewVec[int32](a),
		container.NewVec[int32](a),
	}

	for i := 0; i < count; i++ {
		if err := vecs[i%len(vecs)].Push(int32(i)); err != nil {
			return err
		}
	}

	return nil
}

func resetWorkload(a allocator.Allocator, count int) error {
	for i := 0; i < count; i++ {
		if _, err := a.Allocate(recordLayout); err != nil {
			return err
		}
	}

	a.Reset()

	return nil
}

func outputDigest() string {
	sum := sha256.Sum256([]byte(time.Now().Format(time.RFC3339Nano)))

	return fmt.Sprintf("%x", sum)[:12]
}

func run() error {
	flag.Parse()

	dir := fmt.Sprintf("alloq-bench-%s", outputDigest())
	if err := os.Mkdir(dir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	ps := policies()

	for _, w := range workloads() {
		path := filepath.Join(dir, w.name+".csv")

		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}

		if err := writeWorkloadCSV(f, w, ps); err != nil {
			f.Close()

			return fmt.Errorf("writing %s: %w", path, err)
		}

		if err := f.Close(); err != nil {
			return err
		}

		fmt.Fprintf(os.Stderr, "wrote %s\n", path)
	}

	return nil
}

func writeWorkloadCSV(f *os.File, w workload, ps []policy) error {
	cw := csv.NewWriter(f)
	defer cw.Flush()

	header := make([]string, 0, len(ps)+1)
	header = append(header, "count")

	for _, p := range ps {
		header = append(header, p.name)
	}

	if err := cw.Write(header); err != nil {
		return err
	}

	for count := 0; count <= maxCount; count += step {
		row := make([]string, 0, len(ps)+1)
		row = append(row, strconv.Itoa(count))

		for _, p := range ps {
			row = append(row, strconv.FormatInt(int64(timeWorkload(p, w, count)), 10))
		}

		if err := cw.Write(row); err != nil {
			return err
		}
	}

	return nil
}

// timeWorkload runs w against a fresh instance of p's policy and returns the
// elapsed time in nanoseconds, or -1 if the workload failed (an OutOfMemory
// at a given count is a legitimate result, not a program bug).
func timeWorkload(p policy, w workload, count int) time.Duration {
	a := p.new()

	start := time.Now()
	if err := w.run(a, count); err != nil {
		return -1
	}

	return time.Since(start)
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
