// Package auth holds the identity side of the governance pipeline.
//
// A Principal is bound once per operation at the authentication boundary and
// travels in the context.Context of that operation only. Authorization is a
// single comparison between role ranks, with a static capability map naming
// the minimum role for each capability.
//
// The package also provides the two authenticators used by the HTTP
// middleware: a JWKS-backed bearer token validator and a static key table.
package auth
