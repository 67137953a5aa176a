package book

// ResolveOverlap nets out the price overlap between the ask and bid books.
// While the best bid crosses the best ask, the overlapping amount is
// consumed from both sides; that liquidity is about to be taken by the
// matcher and must not be shown as standing depth. Each side records how
// many of its levels were fully consumed (skips) and whether any overlap
// existed at all (hasMatch).
func ResolveOverlap(asks, bids *OrderBook) {
	askIt := asks.levels.Iterator()
	bidIt := bids.levels.Iterator()

	for askIt.Valid() && bidIt.Valid() {
		ask := askIt.Value()
		bid := bidIt.Value()

		if bid.price.LessThan(ask.price) {
			return
		}

		consumed := ask.remaining
		if bid.remaining.LessThan(consumed) {
			consumed = bid.remaining
		}
		ask.remaining = ask.remaining.Sub(consumed)
		bid.remaining = bid.remaining.Sub(consumed)
		asks.hasMatch = true
		bids.hasMatch = true

		if !ask.remaining.IsPositive() {
			asks.skips++
			askIt.Next()
		}
		if !bid.remaining.IsPositive() {
			bids.skips++
			bidIt.Next()
		}
	}
}
