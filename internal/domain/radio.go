package domain

import "strings"

// RadioFamily identifies the cellular generation a cell-identity tuple
// belongs to. The four values are the only radio families the ingestion
// and inference pipeline understand.
type RadioFamily string

const (
	RadioGSM   RadioFamily = "gsm"
	RadioWCDMA RadioFamily = "wcdma"
	RadioLTE   RadioFamily = "lte"
	RadioNR    RadioFamily = "nr"
)

// ParseRadioFamily normalizes a family spelling from a request body. It
// accepts the canonical lowercase form and a few case variants seen in
// submitted payloads; anything else is rejected.
func ParseRadioFamily(s string) (RadioFamily, bool) {
	switch RadioFamily(strings.ToLower(strings.TrimSpace(s))) {
	case RadioGSM:
		return RadioGSM, true
	case RadioWCDMA:
		return RadioWCDMA, true
	case RadioLTE:
		return RadioLTE, true
	case RadioNR:
		return RadioNR, true
	default:
		return "", false
	}
}

// EmitterKind is the tagged-variant discriminator shared by the three
// emitter store tables. The store exposes one get-many/upsert-many pair
// per kind; this type only labels which pair a given key/delta belongs
// to.
type EmitterKind string

const (
	KindWifi      EmitterKind = "wifi"
	KindBluetooth EmitterKind = "bluetooth"
	KindCell      EmitterKind = "cell"
)
