// Package facility defines the canonical facility data model shared by the
// ETL pipeline and the search path, plus the pure transformations over it:
// normalization of raw upstream records, validation, quality scoring, and
// deduplication.
//
// # Normalization
//
// The upstream source uses several names for the same attribute and sends
// list-valued fields either as JSON arrays or as delimited strings. Each
// canonical attribute resolves from an explicit ordered list of candidate
// fields, first-present-wins:
//
//	fac, result := facility.Normalize(record)
//	if !result.IsValid {
//	    // record is rejected, result.Errors says why
//	}
//
// # Deduplication
//
// Records describing the same physical facility (same normalized
// name+city+state) are merged field-wise, preferring values from the
// higher-quality record. Deduplicate is idempotent.
package facility
