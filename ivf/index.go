package ivf

import (
	"github.com/rs/zerolog"

	"github.com/annidx/vann"
	"github.com/annidx/vann/kmeans"
	"github.com/annidx/vann/rabitq"
	"github.com/annidx/vann/vector"
)

// Index is an open VchordRQ instance bound to a host Store (§3.1, §6.1).
type Index struct {
	Store         vann.Store
	Meta          Meta
	Free          *vann.FreeList
	CentroidsTape *vann.Tape
	VectorsTape   *vann.Tape
	Rotator       *rabitq.Rotator

	// Log is this index's structured logger (§2 "Logging"), optional and
	// nil by default — call ix.logger() rather than using Log directly so
	// every call site gets a safe no-op logger when it's unset.
	Log *zerolog.Logger
}

func (ix *Index) logger() *zerolog.Logger { return vann.Logger(ix.Log) }

// RotatorSeed is the fixed seed every Index derives its Rotator from. It is
// not persisted in Meta: any build and any later reopen must agree on it, so
// it is a build-time constant rather than a per-index random choice (§4.3
// "Random rotation ... only the seed needs to be stored" — simplified here
// to one global constant since SPEC_FULL.md does not call for per-index
// rotation diversity).
const RotatorSeed = 0x564348524451 // "VCHRDQ" in hex, arbitrary but fixed

// Open reconstructs an Index from a Store that already holds a built VchordRQ
// meta tuple.
func Open(store vann.Store) (*Index, error) {
	raw, err := vann.ReadMetaTuple(store)
	if err != nil {
		return nil, err
	}
	m := DecodeMeta(raw)
	free := vann.NewFreeList(store)
	if err := free.Load(m.FreepagesFirst); err != nil {
		return nil, err
	}
	return &Index{
		Store:         store,
		Meta:          m,
		Free:          free,
		CentroidsTape: vann.NewTape(store, 0),
		VectorsTape:   vann.NewTape(store, 0),
		Rotator:       rabitq.NewRotator(RotatorSeed, m.Dim),
	}, nil
}

// BuildOptions configures a fresh build (§6.3 VectorOptions + VchordrqIndexOptions).
type BuildOptions struct {
	Dim            int
	Distance       vector.DistanceKind
	IsResidual     bool
	RerankInTable  bool
	Lists          []int // per-level fanout, root-first; len(Lists) becomes HeightOfRoot
	KmeansAlgo     kmeans.Algorithm
	KmeansIters    int
	KmeansThreads  int
	KmeansSeed     uint64

	// Log is an optional structured logger (§2 "Logging"); nil means silent.
	Log *zerolog.Logger
}

// point is one training vector plus its external payload, threaded through
// the recursive build.
type point struct {
	vec     []float32 // rotated
	payload uint64
}

// Build constructs a new VchordRQ index over vectors/payloads and persists
// it to store (§4.4 "Build"). store must be freshly extended (page 0 only,
// via vann.EnsureMetaPage) or empty.
func Build(store vann.Store, vectors [][]float32, payloads []uint64, opts BuildOptions) (*Index, error) {
	if len(vectors) != len(payloads) {
		return nil, vann.NewError(vann.ErrConfig, "ivf: vectors/payloads length mismatch")
	}
	if len(opts.Lists) == 0 {
		return nil, vann.NewError(vann.ErrConfig, "ivf: Lists must have at least one level")
	}
	if err := vann.EnsureMetaPage(store); err != nil {
		return nil, err
	}

	log := vann.Logger(opts.Log)
	log.Info().Int("vectors", len(vectors)).Ints("lists", opts.Lists).Msg("ivf: build starting")

	rot := rabitq.NewRotator(RotatorSeed, opts.Dim)
	pts := make([]point, len(vectors))
	for i, v := range vectors {
		pts[i] = point{vec: rot.Rotate(v), payload: payloads[i]}
	}

	free := vann.NewFreeList(store)
	centroidsTape := vann.NewTape(store, 0)
	vectorsTape := vann.NewTape(store, 0)

	centroidsFirst, err := centroidsTape.Create(vann.NullPageID)
	if err != nil {
		return nil, err
	}
	vectorsFirst, err := vectorsTape.Create(vann.NullPageID)
	if err != nil {
		return nil, err
	}

	b := &builder{
		store:         store,
		free:          free,
		centroidsTape: centroidsTape,
		centroidsHead: centroidsFirst,
		vectorsTape:   vectorsTape,
		vectorsHead:   vectorsFirst,
		dim:           opts.Dim,
		isResidual:    opts.IsResidual,
		lists:         opts.Lists,
		kmeansAlgo:    opts.KmeansAlgo,
		kmeansIters:   opts.KmeansIters,
		kmeansThreads: opts.KmeansThreads,
		kmeansSeed:    opts.KmeansSeed,
	}

	root, err := b.buildCell(pts, 0, nil)
	if err != nil {
		return nil, err
	}

	m := Meta{
		Dim:            opts.Dim,
		Distance:       opts.Distance,
		IsResidual:     opts.IsResidual,
		RerankInTable:  opts.RerankInTable,
		HeightOfRoot:   len(opts.Lists),
		Lists:          append([]int(nil), opts.Lists...),
		CentroidsFirst: centroidsFirst,
		FreepagesFirst: vann.NullPageID,
		VectorsFirst:   vectorsFirst,
		Root:           root,
		Tuples:         uint64(len(vectors)),
	}
	if err := vann.WriteMetaTuple(store, m.EncodeMeta()); err != nil {
		return nil, err
	}
	log.Info().Uint64("tuples", m.Tuples).Str("mode", rerankModeLabel(m.ModeOf())).Msg("ivf: build complete")

	return &Index{
		Store:         store,
		Meta:          m,
		Free:          free,
		CentroidsTape: centroidsTape,
		VectorsTape:   vectorsTape,
		Rotator:       rot,
		Log:           opts.Log,
	}, nil
}

func rerankModeLabel(m RerankMode) string {
	if m == RerankTable {
		return "table"
	}
	return "full"
}

// builder carries the mutable state threaded through the recursive build.
type builder struct {
	store         vann.Store
	free          *vann.FreeList
	centroidsTape *vann.Tape
	centroidsHead vann.PageID
	vectorsTape   *vann.Tape
	vectorsHead   vann.PageID
	dim           int
	isResidual    bool
	lists         []int
	kmeansAlgo    kmeans.Algorithm
	kmeansIters   int
	kmeansThreads int
	kmeansSeed    uint64
}

// buildCell clusters points into lists[level] children (§4.4, §4.7), writing
// each child's centroid to the centroids tape and, for level ==
// len(lists)-1, writing that child's postings as a leaf cell; for shallower
// levels it recurses. parentCentroid is the rotated centroid of the cell
// points belongs to (nil at the root), used to residualize child centroids
// and member vectors when isResidual is set. Returns the page id of the H1
// tape head holding this cell's children.
func (b *builder) buildCell(points []point, level int, parentCentroid []float32) (vann.PageID, error) {
	c := b.lists[level]
	if c > len(points) {
		c = len(points)
	}
	if c < 1 {
		c = 1
	}

	vecs := make([][]float32, len(points))
	for i, p := range points {
		vecs[i] = p.vec
	}
	res := kmeans.Run(vecs, kmeans.Config{
		Algorithm:  b.kmeansAlgo,
		Clusters:   c,
		Iterations: b.kmeansIters,
		Spherical:  false,
		Seed:       b.kmeansSeed + uint64(level)*0x9E3779B1,
		Threads:    b.kmeansThreads,
	})

	groups := make([][]point, len(res.Centroids))
	for i, cl := range res.Assignment {
		groups[cl] = append(groups[cl], points[i])
	}

	entries := make([]ChildEntry, 0, len(res.Centroids))
	for ci, centroid := range res.Centroids {
		if len(groups[ci]) == 0 {
			continue
		}
		if _, err := b.centroidsTape.Append(b.centroidsHead, EncodeCentroidTuple(CentroidTuple{Vector: centroid}), false, nil); err != nil {
			return vann.NullPageID, err
		}

		codeVec := centroid
		if b.isResidual && parentCentroid != nil {
			codeVec = sub(centroid, parentCentroid)
		}
		code := rabitq.EncodeCode1(codeVec)

		var childPage vann.PageID
		var err error
		if level == len(b.lists)-1 {
			childPage, err = b.buildLeaf(groups[ci], centroid)
		} else {
			childPage, err = b.buildCell(groups[ci], level+1, centroid)
		}
		if err != nil {
			return vann.NullPageID, err
		}
		entries = append(entries, ChildEntry{Code: code, Child: childPage})
	}

	h1Tape := vann.NewTape(b.store, 0)
	head, err := h1Tape.Create(vann.NullPageID)
	if err != nil {
		return vann.NullPageID, err
	}
	for start := 0; start < len(entries); start += rabitq.BlockSize {
		end := start + rabitq.BlockSize
		if end > len(entries) {
			end = len(entries)
		}
		if _, err := h1Tape.Append(head, EncodeH1Tuple(entries[start:end], b.dim), false, nil); err != nil {
			return vann.NullPageID, err
		}
	}
	return head, nil
}

// buildLeaf writes every point's (residualized) vector and RaBitQ code as a
// leaf cell, returning the page holding its Jump tuple (§3.2 invariant 6).
func (b *builder) buildLeaf(points []point, centroid []float32) (vann.PageID, error) {
	frozenTape := vann.NewTape(b.store, 0)
	frozenHead := vann.NullPageID
	appendableTape := vann.NewTape(b.store, 0)
	appendableHead := vann.NullPageID

	postings := make([]PostingEntry, 0, len(points))
	for _, p := range points {
		v := p.vec
		if b.isResidual {
			v = sub(p.vec, centroid)
		}
		vptr, err := b.vectorsTape.Append(b.vectorsHead, EncodeVectorTuple(VectorTuple{Payload: p.payload, Vector: p.vec}), true, b.free)
		if err != nil {
			return vann.NullPageID, err
		}
		postings = append(postings, PostingEntry{Code: rabitq.EncodeCode1(v), Payload: p.payload, VectorPtr: vptr})
	}

	full := 0
	for ; full+rabitq.BlockSize <= len(postings); full += rabitq.BlockSize {
		if frozenHead == vann.NullPageID {
			h, err := frozenTape.Create(vann.NullPageID)
			if err != nil {
				return vann.NullPageID, err
			}
			frozenHead = h
		}
		if _, err := frozenTape.Append(frozenHead, EncodePostingEntries(postings[full:full+rabitq.BlockSize], b.dim), false, nil); err != nil {
			return vann.NullPageID, err
		}
	}
	if rem := postings[full:]; len(rem) > 0 {
		if appendableHead == vann.NullPageID {
			h, err := appendableTape.Create(vann.NullPageID)
			if err != nil {
				return vann.NullPageID, err
			}
			appendableHead = h
		}
		for _, e := range rem {
			if _, err := appendableTape.Append(appendableHead, EncodePostingEntries([]PostingEntry{e}, b.dim), true, b.free); err != nil {
				return vann.NullPageID, err
			}
		}
	}

	jumpWg, err := b.store.Extend(false, func(p *vann.Page) { p.Init(0) })
	if err != nil {
		return vann.NullPageID, err
	}
	if _, ok := jumpWg.Page().Alloc(EncodeJumpTuple(JumpTuple{FrozenFirst: frozenHead, AppendableFirst: appendableHead})); !ok {
		jumpWg.Release()
		return vann.NullPageID, vann.NewError(vann.ErrDataCorruption, "ivf: jump tuple does not fit")
	}
	jumpPage := jumpWg.(vann.IdentifiedGuard).ID()
	jumpWg.Release()
	return jumpPage, nil
}

func sub(a, b []float32) []float32 {
	out := make([]float32, len(a))
	for i := range a {
		out[i] = a[i] - b[i]
	}
	return out
}
