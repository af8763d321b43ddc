// Package audit relays security events to pluggable sinks off the request
// path.
//
// The package does not decide which events exist; the auth core emits them.
// Sinks provided here: [NoOpSink], [ChannelSink], [JSONWriterSink],
// [ZapSink] and [MultiSink].
package audit
