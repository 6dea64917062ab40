// Package vann implements a disk-resident approximate-nearest-neighbor
// vector index engine designed to live inside a page-oriented storage
// substrate (a DBMS page cache). It provides two index flavors sharing the
// same page substrate, tape, and RaBitQ/FastScan codec:
//
//   - ivf: VchordRQ, a hierarchical IVF index with RaBitQ-quantized
//     postings and FastScan acceleration.
//   - graph: VchordG, a single-layer proximity graph in the Vamana/DiskANN
//     family, quantized and page-laid the same way.
//
// The engine itself never touches a filesystem: it is handed a Store (§6.1)
// implementing read/write/extend/search over fixed PageSize pages, and
// builds everything — tuple layout, tape chaining, quantization, traversal —
// on top of that contract. See package store/* for concrete Store
// backends used by this repository's own tests and benchmarks.
//
// Basic usage:
//
//	store := mmapstore.Must(mmapstore.Open("/path/to/index"))
//	opts := ivf.BuildOptions{Dim: 128, Distance: vector.L2, Lists: []int{256}}
//	ix, _ := ivf.Build(store, vectors, payloads, opts)
//	res, _ := ix.Search(context.Background(), query, ivf.SearchOptions{K: 10, Probes: []int{16}}, nil)
package vann
