// Package server hosts the Fiber HTTP service in front of the chunk cache:
// request-ID and recover middleware, the /v1/handles routes and the JSON
// fallback for unknown paths. The handlers themselves live in the proxy
// package and are injected through FileHandler so tests can swap in fakes.
package server
