package match

// ClaimSet tracks listing ids already matched by an earlier tier. It is
// updated strictly sequentially (tier 1 → 2 → 3 → 4); there are no
// concurrent writers.
type ClaimSet map[int64]bool

// NewClaimSet returns an empty claim set.
func NewClaimSet() ClaimSet {
	return make(ClaimSet)
}

// Claimed reports whether the listing id has been claimed.
func (c ClaimSet) Claimed(id int64) bool {
	return c[id]
}

// Claim marks the listing ids as claimed.
func (c ClaimSet) Claim(ids ...int64) {
	for _, id := range ids {
		c[id] = true
	}
}
