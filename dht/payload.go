package dht

import (
	"encoding/json"

	"github.com/TheoBaudoinLighting/kadmesh/routing"
)

// contactJSON mirrors one element of a FIND_NODE_REPLY / FIND_VALUE reply
// contact list: {"id": "<40-hex>", "address": "<str>", "port": <u16>}.
type contactJSON struct {
	ID      string `json:"id"`
	Address string `json:"address"`
	Port    int    `json:"port"`
}

func toContactJSON(c routing.Contact) contactJSON {
	return contactJSON{ID: c.ID.String(), Address: c.Address, Port: c.Port}
}

func (c contactJSON) toContact() (routing.Contact, error) {
	id, err := routing.IDFromHex(c.ID)
	if err != nil {
		return routing.Contact{}, err
	}
	return routing.Contact{ID: id, Address: c.Address, Port: c.Port}, nil
}

func contactsToJSON(contacts []routing.Contact) []contactJSON {
	out := make([]contactJSON, len(contacts))
	for i, c := range contacts {
		out[i] = toContactJSON(c)
	}
	return out
}

func contactsFromJSON(in []contactJSON) []routing.Contact {
	out := make([]routing.Contact, 0, len(in))
	for _, c := range in {
		contact, err := c.toContact()
		if err != nil {
			continue
		}
		out = append(out, contact)
	}
	return out
}

// findNodePayload is the body of a DHT_FIND_NODE message.
type findNodePayload struct {
	Target string `json:"target"`
	Sender string `json:"sender"`
}

// findNodeReplyPayload is the body of a DHT_FIND_NODE_REPLY message: a bare
// JSON array of contacts.
type findNodeReplyPayload []contactJSON

// findValuePayload is the body of a DHT_FIND_VALUE message.
type findValuePayload struct {
	Key    string `json:"key"`
	Sender string `json:"sender"`
}

// findValueReplyPayload is the body of a DHT_FIND_VALUE_REPLY message.
type findValueReplyPayload struct {
	Found    bool          `json:"found"`
	Value    byteArray     `json:"value,omitempty"`
	Contacts []contactJSON `json:"contacts,omitempty"`
}

// storePayload is the body of a DHT_STORE message.
type storePayload struct {
	Key   string    `json:"key"`
	Value byteArray `json:"value"`
	TTL   int64     `json:"ttl"`
}

// byteArray is a []byte that marshals as a JSON array of u8 numbers rather
// than []byte's default base64-string encoding, per the spec's "Byte arrays
// (value) are arrays of u8 in JSON".
type byteArray []byte

func (b byteArray) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i, v := range b {
		ints[i] = int(v)
	}
	return json.Marshal(ints)
}

func (b *byteArray) UnmarshalJSON(data []byte) error {
	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// storeReplyPayload is the body of a DHT_STORE_REPLY message.
type storeReplyPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func encodeJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func decodeJSON(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return wrapDecode(err)
	}
	return nil
}
