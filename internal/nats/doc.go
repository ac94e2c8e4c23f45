// Package nats links standalone recorder processes (browsercast record) to
// the server over an embedded NATS server.
//
//   - Server: embedded NATS server run by the API server process
//   - RecorderClient: used by a recorder to publish its state and metrics
//     and to receive stop commands
//   - Bridge: subscribes to recorder subjects and republishes them on the
//     event bus, so they reach the SSE stream
//   - ControlPublisher: sends stop commands to recorders
//
// Subjects:
//
//	browsercast.recorders.{id}.state     # state changes (recorder → server)
//	browsercast.recorders.{id}.metrics   # pipeline counters (recorder → server)
//	browsercast.control.{id}.stop        # stop command (server → recorder)
//
// Messaging is core NATS, fire-and-forget. A recorder that cannot reach the
// server keeps recording.
//
// Watch recorder traffic with the nats CLI:
//
//	nats sub "browsercast.>" -s nats://127.0.0.1:4222
package nats
