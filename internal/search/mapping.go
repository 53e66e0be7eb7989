package search

import (
	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
)

// buildIndexMapping creates the Bleve index mapping for request documents.
//
// Game names get English stemming for search; filters (user, status,
// source, genres) are keyword fields.
func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = en.AnalyzerName

	docMapping := bleve.NewDocumentMapping()

	nameFieldMapping := bleve.NewTextFieldMapping()
	nameFieldMapping.Analyzer = en.AnalyzerName
	nameFieldMapping.Store = true
	nameFieldMapping.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt("game_name", nameFieldMapping)

	// Usernames are searched as typed, no stemming.
	usernameFieldMapping := bleve.NewTextFieldMapping()
	usernameFieldMapping.Analyzer = simple.Name
	usernameFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("username", usernameFieldMapping)

	for _, field := range []string{"id", "user_id", "status", "source", "genres"} {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = keyword.Name
		fm.Store = true
		docMapping.AddFieldMappingsAt(field, fm)
	}

	catalogFieldMapping := bleve.NewNumericFieldMapping()
	catalogFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("catalog_id", catalogFieldMapping)

	createdAtFieldMapping := bleve.NewNumericFieldMapping()
	createdAtFieldMapping.Store = true
	docMapping.AddFieldMappingsAt("created_at", createdAtFieldMapping)

	indexMapping.AddDocumentMapping("_default", docMapping)

	return indexMapping
}
