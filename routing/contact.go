package routing

import "time"

// Contact is a known remote peer: its NodeID, textual IPv4/IPv6 address, TCP
// port, and the last time traffic was observed from it.
type Contact struct {
	ID       NodeID
	Address  string
	Port     int
	LastSeen time.Time
}

// Touch refreshes the contact's address/port and last-seen timestamp, as
// happens whenever traffic is observed from it.
func (c *Contact) Touch(address string, port int, now time.Time) {
	c.Address = address
	c.Port = port
	c.LastSeen = now
}

// Valid reports whether a contact carries enough information to be dialed:
// a non-empty address and a nonzero port.
func (c Contact) Valid() bool {
	return c.Address != "" && c.Port != 0
}
