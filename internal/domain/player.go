package domain

import "time"

// CurrencyEuro is the only display currency the game ships with. Records are
// pinned to it on every write so stray client values cannot stick.
const CurrencyEuro = "€"

// CollectionKey identifies one of the fixed skin/fragment collections.
type CollectionKey string

const (
	CollectionFire   CollectionKey = "Fire"
	CollectionCookie CollectionKey = "Cookie"
	CollectionAlien  CollectionKey = "Alien"
	CollectionSpace  CollectionKey = "Space"
)

// CollectionKeys lists every collection in display order.
var CollectionKeys = []CollectionKey{
	CollectionFire,
	CollectionCookie,
	CollectionAlien,
	CollectionSpace,
}

// SkinTiers holds per-tier skin counts for one collection.
type SkinTiers struct {
	T1 int64 `json:"T1"`
	T2 int64 `json:"T2"`
	T3 int64 `json:"T3"`
}

// Inventory holds a player's fragments and skins, keyed by collection.
type Inventory struct {
	Fragments map[CollectionKey]int64     `json:"fragments"`
	Skins     map[CollectionKey]SkinTiers `json:"skins"`
}

// DefaultInventory returns a zeroed inventory covering every collection key.
func DefaultInventory() Inventory {
	inv := Inventory{
		Fragments: make(map[CollectionKey]int64, len(CollectionKeys)),
		Skins:     make(map[CollectionKey]SkinTiers, len(CollectionKeys)),
	}
	for _, key := range CollectionKeys {
		inv.Fragments[key] = 0
		inv.Skins[key] = SkinTiers{}
	}
	return inv
}

// Shaped returns a copy of the inventory with every collection key present,
// preserving existing counts. Records written before a collection shipped can
// miss its keys.
func (inv Inventory) Shaped() Inventory {
	shaped := DefaultInventory()
	for key, n := range inv.Fragments {
		shaped.Fragments[key] = n
	}
	for key, tiers := range inv.Skins {
		shaped.Skins[key] = tiers
	}
	return shaped
}

// PlayerRecord is the per-player game state document, keyed by the identity
// id. Taps is nil until the first tap batch lands: a player who has never
// tapped has no taps document at all.
type PlayerRecord struct {
	ID            string       `json:"id"`
	Email         string       `json:"email,omitempty"`
	EmailVerified bool         `json:"emailVerified"`
	Currency      string       `json:"currency"`
	Money         int64        `json:"money"`
	Bananas       int64        `json:"bananas"`
	Taps          *TapCounters `json:"taps,omitempty"`
	Inventory     Inventory    `json:"inventory"`
	CreatedAt     time.Time    `json:"_createdAt"`
	UpdatedAt     time.Time    `json:"_updatedAt"`
}

// PlayerPatch is a partial update to a player record. Nil fields are left
// untouched. Tap counters deliberately have no field here: they belong to the
// tap aggregator and must never arrive through a save.
type PlayerPatch struct {
	Money     *int64     `json:"money,omitempty"`
	Bananas   *int64     `json:"bananas,omitempty"`
	Inventory *Inventory `json:"inventory,omitempty"`
}

// Empty reports whether the patch would change nothing.
func (p PlayerPatch) Empty() bool {
	return p.Money == nil && p.Bananas == nil && p.Inventory == nil
}

// AuthEventKind labels an auth log entry.
type AuthEventKind string

const (
	AuthEventLogin  AuthEventKind = "login"
	AuthEventLogout AuthEventKind = "logout"
)

// Valid reports whether the kind is a known auth event kind.
func (k AuthEventKind) Valid() bool {
	return k == AuthEventLogin || k == AuthEventLogout
}
