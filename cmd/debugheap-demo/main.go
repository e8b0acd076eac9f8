// Command debugheap-demo is a small, deliberately crash-prone exercise
// of the debugheap package, ported from original_source/demo.c. Each
// test case reproduces one of the memory-safety bugs the heap is
// built to catch; cases 1-3 are expected to terminate the process.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"unsafe"

	"github.com/insomniac-tools/debugheap"
)

const heapSize = 2 * 1024 * 1024

func main() {
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: debugheap-demo <testcase>")
		fmt.Fprintln(os.Stderr, "\nTest cases:")
		fmt.Fprintln(os.Stderr, "0: setup+teardown")
		fmt.Fprintln(os.Stderr, "1: array overrun (should crash)")
		fmt.Fprintln(os.Stderr, "2: double free (should panic)")
		fmt.Fprintln(os.Stderr, "3: use after free (should crash)")
		fmt.Fprintln(os.Stderr, "4: 500-block FIFO churn (forces a pending-free flush)")
	}
	flag.Parse()
	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}

	heap, err := debugheap.New(heapSize)
	if err != nil {
		log.Fatalf("debugheap.New: %v", err)
	}
	defer heap.Close()

	switch flag.Arg(0) {
	case "0":
		caseSetupTeardown(heap)
	case "1":
		caseArrayOverrun(heap)
	case "2":
		caseDoubleFree(heap)
	case "3":
		caseUseAfterFree(heap)
	case "4":
		caseFIFOChurn(heap)
	default:
		fmt.Fprintln(os.Stderr, "unsupported test case")
		os.Exit(1)
	}
}

func caseSetupTeardown(h *debugheap.Heap) {
	ptr, err := h.Allocate(128, 4)
	if err != nil {
		log.Fatalf("allocate: %v", err)
	}
	buf := unsafe.Slice((*byte)(ptr), 128)
	buf[127] = 'a'
	if err := h.Free(ptr); err != nil {
		log.Fatalf("free: %v", err)
	}
	log.Println("setup+teardown ok")
}

func caseArrayOverrun(h *debugheap.Heap) {
	ptr, err := h.Allocate(128, 4)
	if err != nil {
		log.Fatalf("allocate: %v", err)
	}
	buf := unsafe.Slice((*byte)(ptr), 129)
	buf[128] = 'a' // should crash here: one page-aligned guard page past the allocation
	log.Println("overrun did not crash — guard page placement is broken")
}

func caseDoubleFree(h *debugheap.Heap) {
	ptr, err := h.Allocate(128, 4)
	if err != nil {
		log.Fatalf("allocate: %v", err)
	}
	if err := h.Free(ptr); err != nil {
		log.Fatalf("free: %v", err)
	}
	if err := h.Free(ptr); err != nil { // should panic here
		log.Fatalf("free: %v", err)
	}
	log.Println("double free did not panic — descriptor tracking is broken")
}

func caseUseAfterFree(h *debugheap.Heap) {
	ptr, err := h.Allocate(128, 4)
	if err != nil {
		log.Fatalf("allocate: %v", err)
	}
	if err := h.Free(ptr); err != nil {
		log.Fatalf("free: %v", err)
	}
	buf := unsafe.Slice((*byte)(ptr), 1)
	buf[0] = 'a' // should crash here: payload pages are decommitted at Free
	log.Println("use after free did not crash — deferred decommit is broken")
}

// caseFIFOChurn allocates and frees 500 blocks one after another. Freed
// blocks stay on the pending-free list, so the 512-page user area is
// used up after 256 two-page blocks and the next Allocate has to flush
// and coalesce the pending list before it can succeed.
func caseFIFOChurn(h *debugheap.Heap) {
	const n = 500
	for i := 0; i < n; i++ {
		ptr, err := h.Allocate(64, 8)
		if err != nil {
			log.Fatalf("allocate %d: %v", i, err)
		}
		if err := h.Free(ptr); err != nil {
			log.Fatalf("free: %v", err)
		}
	}
	log.Printf("FIFO churn of %d blocks ok", n)
}
