package models

// ContentRef identifies one immutable version of a remote record, usually a
// post. It is comparable and is used directly as a map key.
type ContentRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// String renders the ref as uri@cid
func (r ContentRef) String() string {
	return r.URI + "@" + r.CID
}

// IsZero reports whether the ref carries no URI
func (r ContentRef) IsZero() bool {
	return r.URI == ""
}
