package client

// RandomData holds the full random response from a provider, including data
// needed for validation. Byte fields travel as hex strings.
type RandomData struct {
	Rnd               uint64 `json:"round"`
	Random            []byte `json:"randomness"`
	Sig               []byte `json:"signature"`
	PreviousSignature []byte `json:"previous_signature,omitempty"`
}

// GetRound provides access to the round associated with this random data.
func (r *RandomData) GetRound() uint64 {
	return r.Rnd
}

// GetSignature provides the signature over this round's randomness
func (r *RandomData) GetSignature() []byte {
	return r.Sig
}

// GetPreviousSignature provides the previous signature provided by the beacon,
// if nil, it's most likely using an unchained scheme.
func (r *RandomData) GetPreviousSignature() []byte {
	return r.PreviousSignature
}

// GetRandomness exports the randomness, the SHA-256 of the signature.
func (r *RandomData) GetRandomness() []byte {
	return r.Random
}
