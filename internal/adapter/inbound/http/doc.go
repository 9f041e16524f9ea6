// Package http is the inbound HTTP adapter: routing, middleware, error
// mapping, and the JSON surface for the token, SCIM, and authorization
// services.
package http
