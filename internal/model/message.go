package model

// MessageID is the transport-assigned identifier of a message. It is only
// stable within one transport session.
type MessageID uint32

// Message is a raw RFC 5322 message fetched from the transport.
type Message struct {
	ID  MessageID
	Raw []byte
}

// ExtractedLink is the redemption URL found in a message.
type ExtractedLink struct {
	MessageID MessageID
	URL       string
}

// LinkSet maps message IDs to their redemption URL in discovery order.
// Keys are unique; URLs are not deduplicated, so two messages carrying the
// same URL produce two entries.
type LinkSet struct {
	order []MessageID
	urls  map[MessageID]string
}

// NewLinkSet returns an empty LinkSet.
func NewLinkSet() *LinkSet {
	return &LinkSet{urls: make(map[MessageID]string)}
}

// Add records url for id. It reports false, leaving the set unchanged,
// when id is already present.
func (l *LinkSet) Add(id MessageID, url string) bool {
	if _, ok := l.urls[id]; ok {
		return false
	}
	l.order = append(l.order, id)
	l.urls[id] = url
	return true
}

// Len returns the number of entries.
func (l *LinkSet) Len() int {
	return len(l.order)
}

// Entries returns the links in insertion order.
func (l *LinkSet) Entries() []ExtractedLink {
	out := make([]ExtractedLink, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, ExtractedLink{MessageID: id, URL: l.urls[id]})
	}
	return out
}
