package collab

import (
	"bytes"
	"fmt"

	"github.com/oklog/ulid/v2"
)

// stable identifier for graph nodes and clients.
// ulids from the same process are ordered by create time.
// comparable
type Id [16]byte

func NewId() Id {
	return Id(ulid.Make())
}

func ParseId(idStr string) (Id, error) {
	u, err := ulid.ParseStrict(idStr)
	if err != nil {
		return Id{}, err
	}
	return Id(u), nil
}

// the zero id means "no id", e.g. a node from a peer that does not assign ids
func (self Id) IsZero() bool {
	return self == Id{}
}

func (self Id) LessThan(b Id) bool {
	return ulid.ULID(self).Compare(ulid.ULID(b)) < 0
}

func (self Id) String() string {
	if self.IsZero() {
		return ""
	}
	return ulid.ULID(self).String()
}

func (self Id) MarshalJSON() ([]byte, error) {
	var buff bytes.Buffer
	buff.WriteByte('"')
	buff.WriteString(self.String())
	buff.WriteByte('"')
	return buff.Bytes(), nil
}

// accepts `null` and `""` as the zero id
func (self *Id) UnmarshalJSON(src []byte) error {
	if string(src) == "null" {
		*self = Id{}
		return nil
	}
	if len(src) < 2 || src[0] != '"' || src[len(src)-1] != '"' {
		return fmt.Errorf("invalid id json: %s", src)
	}
	idStr := string(src[1 : len(src)-1])
	if idStr == "" {
		*self = Id{}
		return nil
	}
	id, err := ParseId(idStr)
	if err != nil {
		return err
	}
	*self = id
	return nil
}
