// Package connection implements the channel connections and the dispatch
// manager.
//
// The manager:
//   - Holds one websocket per logical channel (trade ticks, order book,
//     personal fills)
//   - Runs the subscribe handshake on the caller's goroutine, echoing
//     keep-alives until the acknowledgement arrives
//   - Starts at most one receive loop per channel, which answers
//     keep-alives and pushes decoded messages onto an unbounded queue
//   - Restarts the personal-fill loop on every subscribe so new key
//     material never meets in-flight frames
package connection
