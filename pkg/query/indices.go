package query

// ResolveIndices prepends the dataset name to every index pattern when
// prefixing is enabled. With no patterns at all the whole dataset is
// targeted via `<dataset>-*`.
func ResolveIndices(dataset string, prefixDataset bool, index []string) []string {
	if !prefixDataset || dataset == "" {
		return index
	}
	if len(index) == 0 {
		return []string{dataset + "-*"}
	}
	out := make([]string, len(index))
	for i, pattern := range index {
		out[i] = dataset + "-" + pattern
	}
	return out
}

// ExcludeIndices turns index patterns into negative-match patterns. The
// result must be concatenated AFTER the include patterns: includes establish
// the candidate set, excludes subtract from it.
func ExcludeIndices(dataset string, prefixDataset bool, exclude []string) []string {
	out := make([]string, len(exclude))
	for i, pattern := range exclude {
		if prefixDataset && dataset != "" {
			out[i] = "-" + dataset + "-" + pattern
		} else {
			out[i] = "-" + pattern
		}
	}
	return out
}
