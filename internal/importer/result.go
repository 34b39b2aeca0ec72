package importer

// Result is the outcome of one file-to-table import. It is a value object:
// the engine returns it to the caller and never persists it itself.
type Result struct {
	Inserted int      `json:"inserted"`
	Updated  int      `json:"updated"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
	FilePath string   `json:"file_path"`
	Table    string   `json:"table_name"`
}

// TotalRows is the number of rows successfully processed.
func (r *Result) TotalRows() int {
	return r.Inserted + r.Updated + r.Skipped
}

// HasErrors reports whether any error occurred during the import.
func (r *Result) HasErrors() bool {
	return len(r.Errors) > 0
}

// Success reports whether the import completed without errors and processed
// at least one row. An empty file yields no errors but is still not a
// success; callers distinguish the two via HasErrors.
func (r *Result) Success() bool {
	return !r.HasErrors() && r.TotalRows() > 0
}

// addError appends a human-readable error message to the result.
func (r *Result) addError(err error) {
	r.Errors = append(r.Errors, err.Error())
}

// setCounts records the reconciliation outcome. Skipped is derived as the
// remainder of loaded rows, clamped at zero to guard against double counting
// from any edge case in the reconciliation query.
func (r *Result) setCounts(loaded, inserted, updated int64) {
	r.Inserted = int(inserted)
	r.Updated = int(updated)

	skipped := loaded - inserted - updated
	if skipped < 0 {
		skipped = 0
	}
	r.Skipped = int(skipped)
}
