// Package status defines the canonical task status and the per-provider
// normalizers that map provider vocabularies onto it.
//
// Completed, Failed and Cancelled are terminal. Lookups fold case and
// separators; any literal a normalizer does not know maps to Queued.
package status
