// Package patterns provides the data-driven entity extractor and error
// classifier shared by pkg/audit and pkg/enrichment. Default returns a
// built-in dictionary; Load reads an override from a YAML file so the
// vocabulary can be tuned without a rebuild.
package patterns
