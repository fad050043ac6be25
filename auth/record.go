package auth

// Record is one account as persisted by a Store. Salt and Hash are base64
// encoded so the record travels as plain JSON.
type Record struct {
	Email             string `json:"email"`
	AccountID         string `json:"account_id"`
	Algorithm         string `json:"encryption"`
	Iterations        int    `json:"iterations"`
	Salt              string `json:"salt_hash"`
	Hash              string `json:"password_hash"`
	Validated         bool   `json:"account_validated"`
	VerificationToken string `json:"email_verification_guid"`
}

// digest returns the password digest part of the record.
func (r Record) digest() Digest {
	return Digest{
		Algorithm:  r.Algorithm,
		Iterations: r.Iterations,
		Salt:       r.Salt,
		Hash:       r.Hash,
	}
}

// withDigest returns a copy of r carrying d.
func (r Record) withDigest(d Digest) Record {
	r.Algorithm = d.Algorithm
	r.Iterations = d.Iterations
	r.Salt = d.Salt
	r.Hash = d.Hash
	return r
}
