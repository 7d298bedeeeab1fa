package fingerprint

import "sort"

// HashResult contains computed perceptual hashes for an image.
type HashResult struct {
	PHash     string `json:"phash"` // 64-bit perceptual hash as hex string
	DHash     string `json:"dhash"` // 64-bit difference hash as hex string
	PHashBits uint64 `json:"-"`
	DHashBits uint64 `json:"-"`
}

// Hashed pairs a stored key with its perceptual hashes.
type Hashed struct {
	Key    string
	Hashes HashResult
}

// NearPair is two visually similar images with their distances.
type NearPair struct {
	A         string `json:"a"`
	B         string `json:"b"`
	PHashDist int    `json:"phash_distance"`
	DHashDist int    `json:"dhash_distance"`
}

// FindNear returns every pair whose pHash and dHash are both within threshold,
// ordered by combined distance then key.
func FindNear(items []Hashed, threshold int) []NearPair {
	var pairs []NearPair
	for i := range items {
		for j := i + 1; j < len(items); j++ {
			a, b := items[i], items[j]
			pd := HammingDistance(a.Hashes.PHashBits, b.Hashes.PHashBits)
			dd := HammingDistance(a.Hashes.DHashBits, b.Hashes.DHashBits)
			if pd <= threshold && dd <= threshold {
				pairs = append(pairs, NearPair{A: a.Key, B: b.Key, PHashDist: pd, DHashDist: dd})
			}
		}
	}
	sort.SliceStable(pairs, func(i, j int) bool {
		di := pairs[i].PHashDist + pairs[i].DHashDist
		dj := pairs[j].PHashDist + pairs[j].DHashDist
		if di != dj {
			return di < dj
		}
		if pairs[i].A != pairs[j].A {
			return pairs[i].A < pairs[j].A
		}
		return pairs[i].B < pairs[j].B
	})
	return pairs
}

// Group is a set of stored keys sharing one content fingerprint.
type Group struct {
	Fingerprint string   `json:"fingerprint"`
	Keys        []string `json:"keys"`
}

// GroupExact groups keys by fingerprint and returns only groups with more than one member,
// sorted by fingerprint.
func GroupExact(fingerprints map[string]string) []Group {
	byHash := make(map[string][]string)
	for key, fp := range fingerprints {
		byHash[fp] = append(byHash[fp], key)
	}
	var groups []Group
	for fp, keys := range byHash {
		if len(keys) < 2 {
			continue
		}
		sort.Strings(keys)
		groups = append(groups, Group{Fingerprint: fp, Keys: keys})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Fingerprint < groups[j].Fingerprint })
	return groups
}
