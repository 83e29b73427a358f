package elastic

import "classifieds-catalog/internal/search"

func keyword() map[string]any { return map[string]any{"type": "keyword"} }

// indexMapping is the mapping created by EnsureSchema.
func indexMapping() map[string]any {
	text := map[string]any{"type": "text", "analyzer": "standard"}
	boolean := map[string]any{"type": "boolean"}
	date := map[string]any{"type": "date"}

	return map[string]any{
		"settings": map[string]any{
			"number_of_shards":   1,
			"number_of_replicas": 0,
		},
		"mappings": map[string]any{
			"dynamic": "strict",
			"properties": map[string]any{
				search.FieldID:          keyword(),
				search.FieldTitle:       text,
				search.FieldDescription: text,
				search.FieldSlug:        keyword(),
				search.FieldType:        keyword(),
				search.FieldCondition:   keyword(),
				search.FieldStatus:      keyword(),
				search.FieldPriceType:   keyword(),
				search.FieldCategoryIDs: keyword(),
				search.FieldOwnerID:     keyword(),
				search.FieldPrice:       map[string]any{"type": "float"},
				search.FieldLocation:    map[string]any{"type": "geo_point"},
				search.FieldCity:        keyword(),
				search.FieldCountry:     keyword(),
				search.FieldIsActive:    boolean,
				search.FieldIsFeatured:  boolean,
				search.FieldIsVerified:  boolean,
				search.FieldIsUrgent:    boolean,
				search.FieldCreatedAt:   date,
				search.FieldPublishedAt: date,
				search.FieldExpiresAt:   date,
			},
		},
	}
}
