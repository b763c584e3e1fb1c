// Package plan defines the subscription tiers and their per-feature monthly
// limits as an immutable lookup table.
//
// The catalog is constructed once at process start, either from the
// compiled-in defaults (Default) or a YAML override file (LoadYAMLFile), and
// validated for completeness and monotonic generosity across tiers. Lookups
// are pure and total: an unrecognized tier resolves to the free tier rather
// than failing the request.
package plan
