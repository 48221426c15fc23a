/*
Package imageop is a content-addressed cache of image operations.

An operation is a load of an image file, a scale of another operation by a
factor, or one tile of another operation. Each is identified by a Key derived
from its variant and parameters, so equal requests resolve to the same node:

	load, err := cache.Resolve(imageop.Load{Path: "board.png"})
	if err != nil {
		return err
	}
	defer load.Release()

	half, err := load.Scale(0.5)
	if err != nil {
		return err
	}
	defer half.Release()

	grid := half.TileGrid()
	for ty := 0; ty < grid.NumTilesY(); ty++ {
		for tx := 0; tx < grid.NumTilesX(); tx++ {
			tile, _ := half.Tile(tx, ty)
			futures = append(futures, tile.Materialize())
		}
	}

Sizes are known at resolve time without computing anything. Bitmaps are
produced on demand by Materialize, at most once per node no matter how many
callers ask concurrently; the returned Future delivers the same bitmap or the
same failure to all of them. Failures are not cached: once every waiter has
seen one, the next Materialize retries.

# Lifetime

Handles, child nodes and in-flight computations each hold a reference on a
node. When the last one goes away the node either moves to a byte-bounded
retention list, if it holds a bitmap and retention is enabled, or is removed
at once, releasing its parent in turn. Re-resolving a retained node takes it
off the list.

ClearAll drops every cached bitmap without forgetting identities. It is used
before deleting scratch files that back mapped bitmaps.

# Concurrency

Cache.mu guards the key map, reference counts and the retention list; each
node's mutex guards its bitmap slot and in-flight future. Cache.mu is always
taken first. Compute steps run on goroutines bounded by Config.Workers slots,
and dependencies are awaited before a slot is taken.
*/
package imageop
