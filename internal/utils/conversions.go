package utils

import "sort"

func ToStringSlice(slice []any) []string {
	stringSlice := make([]string, 0)
	for _, v := range slice {
		if s, ok := v.(string); ok {
			stringSlice = append(stringSlice, s)
		}
	}
	return stringSlice
}

// SortedSet merges the given slices into a sorted slice without duplicates or empty strings.
func SortedSet(slices ...[]string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, s := range slices {
		for _, v := range s {
			if v == "" {
				continue
			}
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}
