// Package render sits between callers and a rendering engine.
//
// An [Engine] turns diagram source into SVG. Two implementations exist:
//
//   - *engine.Supervisor drives an external engine process (PlantUML).
//   - [DotEngine] renders @startdot blocks in-process with Graphviz.
//
// [CachedEngine] decorates any Engine with a render cache and coalesces
// concurrent requests for the same source into one engine call:
//
//	eng, err := render.Open(ctx, cfg, logger)
//	svg, err := eng.Submit(ctx, "@startuml\nA -> B\n@enduml")
//
// # Format Conversion
//
// [ToPDF] and [ToPNG] convert SVG with the external rsvg-convert tool.
//
//	pdf, err := render.ToPDF(ctx, svg)
//	png, err := render.ToPNG(ctx, svg, 2.0)
package render
