// Package engine supervises a long-lived external rendering engine.
//
// The engine (PlantUML in pipe mode by default) reads newline-terminated
// diagram blocks from stdin and writes one rendered SVG document per block
// to stdout, with no delimiter other than each document's closing tag. The
// [Supervisor] owns that process and turns the byte streams into a
// request/response API:
//
//	sup := engine.NewSupervisor(engine.Options{
//	    Launcher: engine.NewPlantUMLLauncher("java", "plantuml.jar", nil),
//	    Timeout:  10 * time.Second,
//	    Logger:   logger,
//	})
//	defer sup.Stop()
//
//	svg, err := sup.Submit(ctx, "@startuml\nA -> B\n@enduml")
//
// # Correlation
//
// Responses are matched to requests purely by position: the Nth frame read
// from stdout resolves the Nth entry of the request [Queue]. Writes to stdin
// are serialized so that queue order always equals write order. The engine
// protocol carries no correlation token, so a frame the engine silently
// drops shifts every later response by one; the only detector is the
// per-request timeout, which restarts the process and rejects the whole
// queue.
//
// # Recovery
//
//   - Timeout: the expired request fails with RENDER_TIMEOUT, every other
//     queued request fails with PROCESS_STOPPED and the process is restarted.
//   - Exit: every queued request fails with PROCESS_CLOSED; the next
//     Submit launches a fresh process.
//   - Incomplete input: sources without an @end marker never reach the
//     engine; Submit returns [Placeholder] instead.
package engine
