package engine

import "regexp"

// terminatorRe matches the closing marker of every diagram block kind the
// engine accepts. Markers must start a line; case is ignored.
var terminatorRe = regexp.MustCompile(`(?im)^[ \t]*@end(uml|mindmap|wbs|gantt|salt|json|yaml|dot|ditaa|ebnf|regex|math|latex|creole|board|chen|chronology|files|git|nwdiag|wire)\b`)

// IsComplete reports whether source contains a recognized block terminator.
//
// This is a heuristic guard for the input stream, not a grammar check: an
// unterminated block would leave the engine waiting for more input and stall
// every request queued behind it. Sources that pass may still be invalid;
// the engine reports those as rendered error images.
func IsComplete(source string) bool {
	return terminatorRe.MatchString(source)
}

// placeholderSVG is returned for sources that are not yet terminated.
const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="320" height="40" viewBox="0 0 320 40">` +
	`<text x="10" y="25" font-family="sans-serif" font-size="14" fill="#888">Waiting for @end marker…</text>` +
	`</svg>`

// Placeholder returns the synthetic image served for incomplete sources.
func Placeholder() []byte {
	return []byte(placeholderSVG)
}
