package storage

import "fmt"

// Key encoding for the badger-backed store. Prefixes are chosen so a
// scan over one entity type never overlaps another, and so range scans
// (used for GetRecentEvents) come back in a useful sort order.
const (
	prefixBusinessByAPIKey = "B#apikey#"
	prefixBusinessByID     = "B#id#"
	prefixGlobalUser       = "GU#"
	prefixUser             = "U#"
	prefixVariant          = "V#"
	prefixRegenLock        = "L#"
	prefixEvent            = "E#"
	prefixAgreement        = "DSA#"
)

func businessByAPIKeyKey(apiKey string) []byte {
	return []byte(prefixBusinessByAPIKey + apiKey)
}

func businessByIDKey(businessID string) []byte {
	return []byte(prefixBusinessByID + businessID)
}

func globalUserKey(globalUID string) []byte {
	return []byte(prefixGlobalUser + globalUID)
}

func userKey(businessID, userID string) []byte {
	return []byte(prefixUser + businessID + "\x00" + userID)
}

func userPrefix(businessID string) []byte {
	return []byte(prefixUser + businessID + "\x00")
}

// VariantKey identifies one (business, user, component) variant record.
type VariantKey struct {
	BusinessID  string
	UserID      string
	ComponentID string
}

func (k VariantKey) String() string {
	return k.BusinessID + "/" + k.UserID + "/" + k.ComponentID
}

func variantKey(k VariantKey) []byte {
	return []byte(prefixVariant + k.BusinessID + "\x00" + k.UserID + "\x00" + k.ComponentID)
}

// variantUserPrefix scopes a variant scan to every component belonging
// to one (business, user) pair, backing the journey endpoint's
// variants snapshot.
func variantUserPrefix(businessID, userID string) []byte {
	return []byte(prefixVariant + businessID + "\x00" + userID + "\x00")
}

// variantBusinessPrefix scopes a variant scan to an entire tenant,
// backing the dashboard's per-component score aggregation.
func variantBusinessPrefix(businessID string) []byte {
	return []byte(prefixVariant + businessID + "\x00")
}

func regenLockKey(k VariantKey) []byte {
	return []byte(prefixRegenLock + k.BusinessID + "\x00" + k.UserID + "\x00" + k.ComponentID)
}

// eventKey encodes an event so that a byte-lexicographic scan sorts
// events chronologically within a (business, user) pair, newest last.
// nanos is zero-padded to keep fixed-width ordering; seq breaks ties
// between events sharing a timestamp, per spec.md §3's "insertion
// order" tiebreak rule.
func eventKey(businessID, userID string, nanos int64, seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%s\x00%s\x00%020d\x00%020d", prefixEvent, businessID, userID, nanos, seq))
}

func eventPrefix(businessID, userID string) []byte {
	return []byte(fmt.Sprintf("%s%s\x00%s\x00", prefixEvent, businessID, userID))
}

func agreementKey(fromBusinessID, toBusinessID string) []byte {
	return []byte(prefixAgreement + fromBusinessID + "\x00" + toBusinessID)
}

func agreementPrefixFrom(fromBusinessID string) []byte {
	return []byte(prefixAgreement + fromBusinessID + "\x00")
}
