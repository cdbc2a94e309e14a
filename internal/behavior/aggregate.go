/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package behavior

import "strings"

// Delimiter separates the namespace of a record key from its label.
const Delimiter = ":"

// Bucket is one bar of the behavior histogram.
type Bucket struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Label extracts the trimmed text after the last Delimiter in key, or the
// whole trimmed key if it has none.
func Label(key string) string {
	if i := strings.LastIndex(key, Delimiter); i >= 0 {
		key = key[i+len(Delimiter):]
	}

	return strings.TrimSpace(key)
}

// Aggregate tallies records by label. Buckets are returned in the order
// each label was first seen; records with a blank label are skipped.
func Aggregate(records []Record) []Bucket {
	counts := make(map[string]int)
	order := make([]string, 0)

	for _, r := range records {
		label := Label(r.Key)
		if label == "" {
			continue
		}

		if _, ok := counts[label]; !ok {
			order = append(order, label)
		}
		counts[label]++
	}

	buckets := make([]Bucket, 0, len(order))
	for _, label := range order {
		buckets = append(buckets, Bucket{Label: label, Count: counts[label]})
	}

	return buckets
}

// Total sums the counts of all buckets.
func Total(buckets []Bucket) int {
	total := 0
	for _, b := range buckets {
		total += b.Count
	}

	return total
}
