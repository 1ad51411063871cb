// Package occupancy computes competing SM occupancy for GPU trace blocks.
//
// # Reading Guide
//
// Start with these files:
//   - block.go: Block, Span and the demand Metric a block is measured by
//   - ledger.go: per-SM append-only record of intervals contributed so far
//   - resolver.go: interval refinement that turns overlapping intervals into a
//     single maximum concurrent demand
//   - analyzer.go: the processing loop tying ledger and resolver together
//
// # Semantics
//
// A block's occupancy is the largest total demand of previously recorded
// intervals on its SM that overlap any single instant of the block's span.
// Spans are closed-open, so intervals that only touch do not overlap. What
// counts as "previously recorded" depends on Config.Order: OrderSource follows
// stream/kernel/block enumeration order, OrderChronological sorts each SM's
// blocks by start time first.
//
// Trace loading lives in occupancy/trace and presentation helpers in
// occupancy/report; neither is needed to use this package directly.
package occupancy
