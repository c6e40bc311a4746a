// Package response provides handler.Response constructors: JSON bodies
// (including custom media types such as application/problem+json), raw
// bytes, empty statuses, deferred errors and header decorators.
package response
