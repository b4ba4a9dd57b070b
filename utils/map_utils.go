package utils

func CloneMap[K comparable, V any](m map[K]V) map[K]V {
	cloneM := make(map[K]V, len(m))
	for k, v := range m {
		cloneM[k] = v
	}
	return cloneM
}

func UniqueSlice[K comparable](a []K) []K {
	seen := make(map[K]bool, len(a))
	out := make([]K, 0, len(a))
	for _, v := range a {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
