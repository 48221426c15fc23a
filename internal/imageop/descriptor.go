package imageop

// Descriptor names an operation to resolve: Load, Scale or Tile.
type Descriptor interface {
	kind() Kind
}

// Load decodes the image file at Path.
type Load struct {
	Path string
}

// Scale resamples Parent by Factor, which must be positive and finite.
type Scale struct {
	Parent *Handle
	Factor float64
}

// Tile cuts tile (X, Y) out of Parent using the cache tile size.
type Tile struct {
	Parent *Handle
	X, Y   int
}

func (Load) kind() Kind  { return KindLoad }
func (Scale) kind() Kind { return KindScale }
func (Tile) kind() Kind  { return KindTile }
