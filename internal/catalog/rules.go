package catalog

import "classifieds-catalog/internal/validate"

var listingRules = validate.Rules{
	{Field: "title", Tag: "notblank", Message: "title is required"},
	{Field: "title", Tag: "max=200", Message: "title must be at most 200 characters"},
	{Field: "description", Tag: "notblank", Message: "description is required"},
	{Field: "description", Tag: "max=5000", Message: "description must be at most 5000 characters"},
	{Field: "contact", Tag: "max=255", Message: "contact must be at most 255 characters"},
	{Field: "price", Tag: "gte=0", Message: "price must not be negative"},
	{Field: "priceType", Tag: "omitempty,oneof=fixed negotiable free contact exchange", Message: "priceType must be one of: fixed, negotiable, free, contact, exchange"},
	{Field: "status", Tag: "omitempty,oneof=draft pending active expired deleted published", Message: "status must be one of: draft, pending, active, expired, deleted, published"},
	{Field: "type", Tag: "max=64", Message: "type must be at most 64 characters"},
	{Field: "condition", Tag: "max=64", Message: "condition must be at most 64 characters"},
	{Field: "categories", Tag: "required", Message: "at least one category is required to publish a listing"},
}

// quickRules name each field the quick form requires. They run before
// listingRules so a missing field is reported by name.
var quickRules = validate.Rules{
	{Field: "title", Tag: "notblank", Message: "title is required"},
	{Field: "description", Tag: "notblank", Message: "description is required"},
	{Field: "contact", Tag: "notblank", Message: "contact is required"},
	{Field: "pricePresent", Tag: "required", Message: "price is required"},
	{Field: "locationPresent", Tag: "required", Message: "location is required"},
}
