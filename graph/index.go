package graph

import (
	"github.com/rs/zerolog"

	"github.com/annidx/vann"
	"github.com/annidx/vann/rabitq"
	"github.com/annidx/vann/vector"
)

// RotatorSeed mirrors ivf.RotatorSeed's role: a fixed, build-and-reopen
// shared seed rather than a persisted matrix (§4.3).
const RotatorSeed = 0x5643484F5247 // "VCHORG" in hex

// Index is an open VchordG instance (§3.1, §6.1).
type Index struct {
	Store   vann.Store
	Meta    Meta
	Free    *vann.FreeList
	Rotator *rabitq.Rotator

	// Log is this index's structured logger (§2 "Logging"), optional and
	// nil by default — call ix.logger() rather than using Log directly.
	Log *zerolog.Logger
}

func (ix *Index) logger() *zerolog.Logger { return vann.Logger(ix.Log) }

// BuildOptions configures a fresh build (§6.3 VchordgIndexOptions).
type BuildOptions struct {
	Dim              int
	Distance         vector.DistanceKind
	M                int
	Alpha            []float32
	EfConstruction   int
	BeamConstruction int

	// Log is an optional structured logger (§2 "Logging"); nil means silent.
	Log *zerolog.Logger
}

// Open reconstructs an Index from a Store already holding a built VchordG
// meta tuple.
func Open(store vann.Store) (*Index, error) {
	raw, err := vann.ReadMetaTuple(store)
	if err != nil {
		return nil, err
	}
	m := DecodeMeta(raw)
	free := vann.NewFreeList(store)
	return &Index{Store: store, Meta: m, Free: free, Rotator: rabitq.NewRotator(RotatorSeed, m.Dim)}, nil
}

// Build constructs a new VchordG index by inserting every vector in order
// (§4.5: the graph core has no separate bulk-build pass — it is built by
// repeated Insert, same as the original Vamana construction loop).
func Build(store vann.Store, vectors [][]float32, payloads []uint64, opts BuildOptions) (*Index, error) {
	if len(vectors) != len(payloads) {
		return nil, vann.NewError(vann.ErrConfig, "graph: vectors/payloads length mismatch")
	}
	if err := vann.EnsureMetaPage(store); err != nil {
		return nil, err
	}
	log := vann.Logger(opts.Log)
	log.Info().Int("vectors", len(vectors)).Int("m", opts.M).Msg("graph: build starting")
	m := Meta{
		Dim:          opts.Dim,
		Distance:     opts.Distance,
		M:            opts.M,
		Alpha:        append([]float32(nil), opts.Alpha...),
		Start:        vann.NullPageID,
		VectorsFirst: vann.NullPageID,
		Tuples:       0,
	}
	if err := vann.WriteMetaTuple(store, m.EncodeMeta()); err != nil {
		return nil, err
	}
	ix := &Index{
		Store:   store,
		Meta:    m,
		Free:    vann.NewFreeList(store),
		Rotator: rabitq.NewRotator(RotatorSeed, opts.Dim),
		Log:     opts.Log,
	}
	for i, v := range vectors {
		if err := ix.Insert(v, payloads[i], opts.EfConstruction, opts.BeamConstruction); err != nil {
			return nil, err
		}
	}
	log.Info().Uint64("tuples", ix.Meta.Tuples).Msg("graph: build complete")
	return ix, nil
}
