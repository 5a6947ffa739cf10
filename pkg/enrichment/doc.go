// Package enrichment implements the ContextEnricher. See Enricher.Enrich.
package enrichment
