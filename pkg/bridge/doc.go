// Package bridge exposes a rendering engine to local HTTP clients.
//
// The bridge listens on the loopback interface only. A port is either
// pinned ([Bind]) or found by scanning a range in ascending order
// ([BindAuto]). Requests carry the diagram source hex-encoded in the path:
//
//	GET /svg/~h407374617274756d6c...
//
// and are answered with the engine's SVG. CORS is open so that pages served
// from anywhere on the machine can embed the images.
//
// A host process drives the bridge with [Controller], which speaks JSON
// lines:
//
//	{"command":"start","port":0}
//	{"success":true,"port":8080}
package bridge
